package leads

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	StatusLead       = "LEAD"
	StatusReachedOut = "REACHED_OUT"
	StatusError      = "ERROR"
)

// Lead is one observed property listing with its outreach state, as the
// backend serialises it. Local copies are replaced wholesale on refresh.
type Lead struct {
	PropertyID         string         `json:"property_id"`
	DisplayID          string         `json:"display_id"`
	Title              string         `json:"title"`
	DateAdded          string         `json:"date_added"`
	ListerName         string         `json:"lister_name"`
	ListerPhone        string         `json:"lister_phone,omitempty"`
	Status             string         `json:"status"`
	OutreachHistory    []OutreachItem `json:"outreach_history"`
	CRMRaw             CRMRaw         `json:"crm_raw"`
	LastMessageExcerpt string         `json:"last_message_excerpt,omitempty"`
	LastMessageAt      string         `json:"last_message_at,omitempty"`
	UnreadCount        int            `json:"unread_count"`
}

// OutreachItem is one outreach attempt; the history is append-only and
// chronological by insertion.
type OutreachItem struct {
	Date    string `json:"date"`
	Success bool   `json:"success"`
	Note    string `json:"note,omitempty"`
}

// ConversationMessage is one message in a lead's conversation stream.
type ConversationMessage struct {
	ID          string `json:"id,omitempty"`
	Direction   string `json:"direction"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
	Timestamp   string `json:"timestamp"`
	Status      string `json:"status,omitempty"`
}

// AddedAt returns the lead's creation instant. A record whose date_added
// does not parse is treated as undated: it sorts last and buckets under
// the unknown-date label.
func (l Lead) AddedAt() (time.Time, bool) {
	return ParseInstant(l.DateAdded)
}

// LastActivityAt returns the instant of the most recent outreach attempt,
// falling back to the creation time when no attempt parses.
func (l Lead) LastActivityAt() (time.Time, bool) {
	for i := len(l.OutreachHistory) - 1; i >= 0; i-- {
		if ts, ok := ParseInstant(l.OutreachHistory[i].Date); ok {
			return ts, true
		}
	}
	return l.AddedAt()
}

// ParseInstant parses an ISO-8601 timestamp as the backend emits them,
// with or without sub-second precision or an explicit offset.
func ParseInstant(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// CRMRaw is the open-ended server-defined payload attached to a lead. It is
// the only access point for property type, region, zone, room count and
// price information, and every accessor tolerates missing or oddly-typed
// values rather than failing.
type CRMRaw map[string]any

// Number reports the value under key coerced to a finite float64. Empty
// strings, nulls and non-finite results are treated as absent.
func (r CRMRaw) Number(key string) (float64, bool) {
	value, ok := r[key]
	if !ok {
		return 0, false
	}
	return coerceNumber(value)
}

// String reports the non-empty textual value under key, if any.
func (r CRMRaw) String(key string) (string, bool) {
	value, ok := r[key]
	if !ok {
		return "", false
	}
	text, ok := value.(string)
	if !ok {
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}

// Truthy reports whether the value under key is truthy: a true bool, a
// non-zero number, or a non-empty string.
func (r CRMRaw) Truthy(key string) bool {
	value, ok := r[key]
	if !ok || value == nil {
		return false
	}
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return typed != ""
	default:
		if n, ok := coerceNumber(value); ok {
			return n != 0
		}
		return false
	}
}

func coerceNumber(value any) (float64, bool) {
	var n float64
	switch typed := value.(type) {
	case float64:
		n = typed
	case float32:
		n = float64(typed)
	case int:
		n = float64(typed)
	case int64:
		n = float64(typed)
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// NormalizePhone strips everything but digits, drops a leading
// international "00" prefix, and prepends the default country dial code to
// local-format numbers.
func NormalizePhone(phone, defaultDialCode string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	normalized := digits.String()
	if normalized == "" {
		return ""
	}
	if strings.HasPrefix(normalized, "00") {
		normalized = normalized[2:]
	}
	if defaultDialCode != "" && !strings.HasPrefix(normalized, defaultDialCode) {
		if strings.HasPrefix(normalized, "0") {
			normalized = defaultDialCode + normalized[1:]
		} else if len(normalized) <= 10 {
			normalized = defaultDialCode + normalized
		}
	}
	return normalized
}
