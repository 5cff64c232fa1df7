// Package common — pluralize.go содержит вспомогательные функции
// для правильного склонения русских числительных.
// Основная логика плюрализации реализована в helpers.go,
// этот файл экспортирует готовые формы для частых слов.
package common

import "fmt"

// PluralizeWarnings возвращает правильную форму слова «предупреждение».
func PluralizeWarnings(n int) string {
	return Plural(int64(n), "предупреждение", "предупреждения", "предупреждений")
}

// PluralizeTracks возвращает правильную форму слова «трек».
func PluralizeTracks(n int) string {
	return Plural(int64(n), "трек", "трека", "треков")
}

// FormatSignedMoney создаёт строку вида "+100 🪙" или "-50 🪙".
// Знак «+» или «-» добавляется автоматически.
//
// Примеры:
//
//	FormatSignedMoney(100, "🪙")  → "+100 🪙"
//	FormatSignedMoney(-50, "🪙")  → "-50 🪙"
func FormatSignedMoney(amount int64, emoji string) string {
	if amount >= 0 {
		return "+" + FormatMoney(amount, emoji)
	}
	return FormatMoney(amount, emoji)
}

// FormatNumber форматирует число с разделителями тысяч (пробелами).
// Пример: FormatNumber(2350) → "2 350"
func FormatNumber(n int64) string {
	if n < 0 {
		// -(n+1) не переполняется даже для math.MinInt64
		return "-" + formatGroups(uint64(-(n+1))+1)
	}
	return formatGroups(uint64(n))
}

func formatGroups(n uint64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	// Рекурсивно добавляем разделители
	return fmt.Sprintf("%s %03d", formatGroups(n/1000), n%1000)
}
