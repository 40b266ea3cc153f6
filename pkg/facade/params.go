package facade

import (
	"fmt"
	"math"
	"time"
)

// RequestParameters holds the decoded arguments of a Call.
type RequestParameters map[string]interface{}

func missingParamError(key string) error {
	return fmt.Errorf("missing %s param", key)
}

func invalidParamError(key string) error {
	return fmt.Errorf("invalid %s param", key)
}

func (p RequestParameters) getString(key string, required bool) (string, error) {
	value, exists := p[key]
	if exists && value != nil {
		if strValue, isString := value.(string); isString {
			return strValue, nil
		}
		return "", invalidParamError(key)
	}

	if !required {
		return "", nil
	}

	return "", missingParamError(key)
}

func (p RequestParameters) getNumber(key string, required bool) (float64, error) {
	value, exists := p[key]
	if exists && value != nil {
		switch num := value.(type) {
		case float64:
			return num, nil
		case int:
			return float64(num), nil
		}
		return 0, invalidParamError(key)
	}

	if !required {
		return 0, nil
	}

	return 0, missingParamError(key)
}

// getCount returns a non-negative whole number no greater than limit.
func (p RequestParameters) getCount(key string, limit int, required bool) (int, error) {
	num, err := p.getNumber(key, required)
	if err != nil {
		return 0, err
	}
	if num < 0 || num > float64(limit) || num != math.Trunc(num) {
		return 0, invalidParamError(key)
	}
	return int(num), nil
}

// getSeconds returns a non-negative duration given in seconds.
func (p RequestParameters) getSeconds(key string, required bool) (time.Duration, error) {
	num, err := p.getNumber(key, required)
	if err != nil {
		return 0, err
	}
	if !(num >= 0 && num <= maxSeconds) {
		return 0, invalidParamError(key)
	}
	return time.Duration(num * float64(time.Second)), nil
}

const maxSeconds = float64(math.MaxInt64/int64(time.Second)) - 1
