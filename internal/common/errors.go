// Package common — errors.go определяет пользовательские ошибки,
// которые используются во всех модулях бота.
// Эти ошибки позволяют обработчикам различать типы проблем
// и отправлять пользователю понятные сообщения.
package common

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Ошибки экономики
var (
	// ErrInsufficientBalance — недостаточно монет в кошельке
	ErrInsufficientBalance = errors.New("недостаточно монет в кошельке")
	// ErrInsufficientBank — недостаточно монет в банке
	ErrInsufficientBank = errors.New("недостаточно монет в банке")
	// ErrSelfTransfer — попытка перевести монеты самому себе
	ErrSelfTransfer = errors.New("нельзя переводить монеты самому себе")
	// ErrInvalidAmount — некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrWalletLimit — кошелёк упёрся в max_balance сервера
	ErrWalletLimit = errors.New("кошелёк заполнен до лимита сервера")
	// ErrVictimBroke — у цели ограбления пустой кошелёк
	ErrVictimBroke = errors.New("у этого участника пустой кошелёк")
	// ErrUserNotFound — пользователь не найден
	ErrUserNotFound = errors.New("пользователь не найден")
	// ErrUnknownSetting — неизвестный ключ настройки
	ErrUnknownSetting = errors.New("неизвестная настройка")
	// ErrInvalidSetting — значение настройки не прошло проверку
	ErrInvalidSetting = errors.New("некорректное значение настройки")
)

// Ошибки модерации
var (
	// ErrSelfTarget — действие над самим собой
	ErrSelfTarget = errors.New("нельзя применить это к самому себе")
	// ErrBotTarget — действие над ботом
	ErrBotTarget = errors.New("нельзя применить это к боту")
	// ErrInvalidDuration — не удалось разобрать длительность
	ErrInvalidDuration = errors.New("некорректная длительность (пример: 10m, 2h, 1d, 1h30m)")
	// ErrDurationTooLong — длительность больше допустимой
	ErrDurationTooLong = errors.New("длительность не может превышать 28 дней")
	// ErrEmptyReason — пустая причина
	ErrEmptyReason = errors.New("укажите причину")
)

// Ошибки музыки
var (
	// ErrNothingPlaying — сейчас ничего не играет
	ErrNothingPlaying = errors.New("сейчас ничего не играет")
	// ErrNotEnoughHistory — в истории нет предыдущего трека
	ErrNotEnoughHistory = errors.New("нет предыдущего трека")
	// ErrNothingFound — поиск ничего не нашёл
	ErrNothingFound = errors.New("ничего не найдено")
	// ErrBadPosition — позиция вне очереди
	ErrBadPosition = errors.New("такой позиции в очереди нет")
	// ErrNotInVoice — пользователь не в голосовом канале
	ErrNotInVoice = errors.New("сначала зайдите в голосовой канал")
	// ErrSessionClosed — сессия остановлена
	ErrSessionClosed = errors.New("сессия плеера остановлена")
	// ErrInvalidVolume — громкость вне диапазона
	ErrInvalidVolume = errors.New("громкость должна быть от 0 до 200")
)

// Ошибки админки
var (
	// ErrNotAdmin — пользователь не является владельцем бота
	ErrNotAdmin = errors.New("у вас нет прав администратора")
	// ErrWrongPassword — неверный пароль
	ErrWrongPassword = errors.New("неверный пароль")
	// ErrTooManyAttempts — слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
	// ErrSessionExpired — сессия истекла
	ErrSessionExpired = errors.New("сессия истекла, авторизуйтесь заново")
)

// ErrBadReward — награда за уровень задана неверно
var ErrBadReward = errors.New("награду можно назначить на уровень от 2 и только ролью")

// ErrNoPermission — у пользователя нет нужного права на сервере
var ErrNoPermission = errors.New("недостаточно прав")

var userFacing = []error{
	ErrInsufficientBalance, ErrInsufficientBank, ErrSelfTransfer, ErrInvalidAmount,
	ErrWalletLimit, ErrVictimBroke,
	ErrUserNotFound, ErrUnknownSetting, ErrInvalidSetting,
	ErrSelfTarget, ErrBotTarget, ErrInvalidDuration, ErrDurationTooLong, ErrEmptyReason,
	ErrNothingPlaying, ErrNotEnoughHistory, ErrNothingFound, ErrBadPosition,
	ErrNotInVoice, ErrSessionClosed, ErrInvalidVolume,
	ErrNotAdmin, ErrWrongPassword, ErrTooManyAttempts, ErrSessionExpired,
	ErrNoPermission, ErrBadReward,
}

// UserMessage превращает ошибку в текст для пользователя.
// Известные ошибки показываются как есть, остальные — общей фразой,
// чтобы детали БД и внешних API не утекали в чат.
func UserMessage(err error) string {
	if known := userFacingError(err); known != nil {
		return "❌ " + capitalize(known.Error())
	}
	return "❌ Что-то пошло не так, попробуйте позже"
}

// IsUserFacing сообщает, что ошибка вызвана вводом пользователя
// и логировать её как сбой не нужно.
func IsUserFacing(err error) bool {
	return userFacingError(err) != nil
}

func userFacingError(err error) error {
	for _, known := range userFacing {
		if errors.Is(err, known) {
			return known
		}
	}
	return nil
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return strings.ToUpper(string(r)) + s[size:]
}
