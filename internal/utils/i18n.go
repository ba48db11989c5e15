package utils

import "fmt"

// Server-side messages for business rejections shown to users verbatim.
// Keys mirror services.ServiceError.Key; %v verbs take ServiceError.Args.

var translations = map[string]map[string]string{
	"en": {
		"health.ok":                    "ok",
		"response.illegal_transition":  "cannot move response from %v to %v",
		"response.reason_required":     "rejection reason required",
		"response.already_complete":    "response is already complete",
		"survey.not_active":            "survey is not accepting responses",
		"survey.not_draft":             "survey is not a draft",
		"survey.id_taken":              "survey id %v is already taken",
		"economy.insufficient_credits": "need at least %v accepted responses",
		"economy.no_pass":              "no survey creation pass available",
		"economy.nothing_to_claim":     "no commerce rewards available to claim",
	},
	"zh": {
		"health.ok":                    "好的",
		"response.illegal_transition":  "无法将答卷从 %v 变更为 %v",
		"response.reason_required":     "拒绝时必须填写理由",
		"response.already_complete":    "答卷已提交，无法修改",
		"survey.not_active":            "问卷当前不接受作答",
		"survey.not_draft":             "问卷不是草稿状态",
		"survey.id_taken":              "问卷编号 %v 已被占用",
		"economy.insufficient_credits": "至少需要 %v 份已通过的答卷",
		"economy.no_pass":              "没有可用的问卷发布券",
		"economy.nothing_to_claim":     "没有可领取的商业奖励",
	},
}

// SupportedLocales lists the locales with a translation table.
func SupportedLocales() []string { return []string{"en", "zh"} }

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := translations["en"]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}

// Tf formats the translation of key with args. ok is false when no table
// knows key, so callers can keep their own rendering.
func Tf(locale, key string, args ...any) (string, bool) {
	if _, known := translations["en"][key]; !known {
		return "", false
	}
	if len(args) == 0 {
		return T(locale, key), true
	}
	return fmt.Sprintf(T(locale, key), args...), true
}
