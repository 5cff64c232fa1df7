package middleware

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// RecoverFromPanic вызывается через defer в начале обработки события.
func RecoverFromPanic(requestID string) {
	if r := recover(); r != nil {
		log.WithFields(log.Fields{
			"component":  "panic_recovery",
			"request_id": requestID,
			"panic":      fmt.Sprintf("%v", r),
			"stack":      string(debug.Stack()),
		}).Error("ПАНИКА в обработчике — восстановлено")
	}
}
