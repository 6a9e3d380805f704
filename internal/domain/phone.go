package domain

import "strings"

// NormalizePhone оставляет только цифры: "+1 (555) 123-4567" -> "15551234567".
// Транспорт ждёт номер без ведущего "+". Мусор на входе даёт пустую
// или неполную строку, дальше lookup просто ничего не найдёт.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
