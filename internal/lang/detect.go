// Package lang resolves user-supplied language codes, including the
// special value "auto" which detects the language from a text sample.
package lang

import (
	"errors"
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"

	"github.com/lingodoc/lingodoc/pkg/log"
)

// Auto asks for language detection from the document text.
const Auto = "auto"

var (
	// ErrNoSample is returned when "auto" is requested without text to
	// detect from.
	ErrNoSample = errors.New("lang: auto detection needs a text sample")
	// ErrUnreliable is returned when detection did not reach a
	// confident result.
	ErrUnreliable = errors.New("lang: detection result is not reliable")
)

// Resolve turns code into a canonical BCP 47 base language. code may be
// any tag language.Parse accepts, or Auto with a non-empty sample.
func Resolve(code, sample string) (language.Tag, error) {
	code = strings.TrimSpace(strings.ToLower(code))
	if code == Auto {
		return Detect(sample)
	}

	tag, err := language.Parse(code)
	if err != nil {
		return language.Und, fmt.Errorf("unknown language %q: %w", code, err)
	}
	base, _ := tag.Base()
	return language.Make(base.String()), nil
}

// Detect guesses the language of sample.
func Detect(sample string) (language.Tag, error) {
	if strings.TrimSpace(sample) == "" {
		return language.Und, ErrNoSample
	}

	info := whatlanggo.Detect(sample)
	if !info.IsReliable() {
		return language.Und, ErrUnreliable
	}

	iso3 := whatlanggo.LangToString(info.Lang)
	tag, err := language.Parse(iso3)
	if err != nil {
		return language.Und, fmt.Errorf("detected unsupported language %q: %w", iso3, err)
	}
	base, _ := tag.Base()
	resolved := language.Make(base.String())
	log.Debug("Detected language %s (confidence %.2f)", resolved, info.Confidence)
	return resolved, nil
}
