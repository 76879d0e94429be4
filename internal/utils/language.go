package utils

import (
	"strings"
	"unicode"
)

// Language codes
const (
	LangEnglish = "en"
	LangHebrew  = "he"
	LangArabic  = "ar"
	LangRussian = "ru"
	LangCJK     = "zh"
)

// Language represents a detected language
type Language struct {
	Code       string
	Name       string
	Confidence float64
}

var scriptRanges = []struct {
	code  string
	name  string
	table *unicode.RangeTable
}{
	{LangHebrew, "Hebrew", unicode.Hebrew},
	{LangArabic, "Arabic", unicode.Arabic},
	{LangRussian, "Russian", unicode.Cyrillic},
	{LangCJK, "Chinese", unicode.Han},
}

// DetectLanguage guesses the dominant language of text from its script.
// Latin-script text is reported as English, which is good enough to pick a
// reply language.
func DetectLanguage(text string) Language {
	text = strings.TrimSpace(text)
	if text == "" {
		return Language{Code: LangEnglish, Name: "English", Confidence: 0}
	}

	total := 0
	counts := make(map[string]int, len(scriptRanges))
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		for _, s := range scriptRanges {
			if unicode.Is(s.table, r) {
				counts[s.code]++
				break
			}
		}
	}
	if total == 0 {
		return Language{Code: LangEnglish, Name: "English", Confidence: 0}
	}

	best := Language{Code: LangEnglish, Name: "English", Confidence: 0}
	for _, s := range scriptRanges {
		ratio := float64(counts[s.code]) / float64(total)
		if ratio > 0.1 && ratio > best.Confidence {
			best = Language{Code: s.code, Name: s.name, Confidence: ratio}
		}
	}
	return best
}

// LanguageInstruction returns a prompt instruction matching the detected
// language, so replies come back in the sender's language.
func LanguageInstruction(lang Language) string {
	switch lang.Code {
	case LangHebrew:
		return "Please respond in Hebrew."
	case LangArabic:
		return "Please respond in Arabic."
	case LangRussian:
		return "Please respond in Russian."
	case LangCJK:
		return "Please respond in Chinese."
	default:
		return "Please respond in English."
	}
}
