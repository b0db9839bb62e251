package utils

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

// NormalizePhone turns an international Iranian number into the local
// 0-prefixed form the gateways expect.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.ReplaceAll(phone, " ", "")
	switch {
	case strings.HasPrefix(phone, "+98"):
		return "0" + phone[3:]
	case strings.HasPrefix(phone, "0098"):
		return "0" + phone[4:]
	case strings.HasPrefix(phone, "98") && len(phone) == 12:
		return "0" + phone[2:]
	}
	return phone
}

func ParseInt64(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func WriteJSONError(w http.ResponseWriter, message string, code int) {
	WriteJSON(w, code, map[string]string{"error": message})
}
