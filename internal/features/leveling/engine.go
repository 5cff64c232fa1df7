package leveling

// XPThreshold — сколько опыта нужно набрать на уровне level, чтобы перейти
// на следующий: 5·L² + 50·L + 100.
func XPThreshold(level int) int64 {
	l := int64(level)
	return 5*l*l + 50*l + 100
}

// Apply добавляет опыт. Если порог достигнут — уровень растёт на один,
// излишек остаётся опытом нового уровня. Повышение не каскадируется.
func Apply(r Record, gain int64) (Record, bool) {
	if r.Level < 1 {
		r.Level = 1
	}
	r.XP += gain
	if r.XP < 0 {
		r.XP = 0
	}
	if threshold := XPThreshold(r.Level); r.XP >= threshold {
		r.Level++
		r.XP -= threshold
		return r, true
	}
	return r, false
}

// Progress — доля пути до следующего уровня, от 0 до 1.
func Progress(r Record) float64 {
	p := float64(r.XP) / float64(XPThreshold(r.Level))
	if p > 1 {
		return 1
	}
	return p
}
