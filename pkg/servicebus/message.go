package servicebus

import (
	"errors"
	"fmt"
	"github.com/google/uuid"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderMessageId         = "MessageId"
	HeaderCorrelationId     = "CorrelationId"
	HeaderType              = "Type"
	HeaderOrigin            = "Origin"
	HeaderTimeToBeReceived  = "TimeToBeReceived"
	HeaderDeferredUntil     = "DeferredUntil"
	HeaderDeferredRecipient = "DeferredRecipient"
)

var ErrInvalidTimeToBeReceived = errors.New("invalid TimeToBeReceived header")

/*
Message is the raw transport representation of a message: string headers and an opaque body.
CreatedAt is stamped when the message is built and is used to compute its age.
*/
type Message struct {
	Headers   map[string]string
	Body      []byte
	CreatedAt time.Time
}

type Mutation func(msg *Message)

/*
Create a new message with the given headers and body. A MessageId header is generated if absent.
Mutations are applied in order of declaration after the defaults have been set.
*/
func NewMessage(headers map[string]string, body []byte, mutations ...Mutation) *Message {
	msg := &Message{
		Headers:   make(map[string]string, len(headers)+1),
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	for k, v := range headers {
		msg.Headers[k] = v
	}
	if msg.Headers[HeaderMessageId] == "" {
		msg.Headers[HeaderMessageId] = uuid.New().String()
	}

	for _, mutation := range mutations {
		mutation(msg)
	}
	return msg
}

func (msg *Message) MessageId() string {
	if id, ok := msg.Headers[HeaderMessageId]; ok && id != "" {
		return id
	}
	return "<no message ID>"
}

// Age of the message relative to now.
func (msg *Message) Age(now time.Time) time.Duration {
	return now.Sub(msg.CreatedAt)
}

/*
Expired reports whether the message carries a TimeToBeReceived header and is older than it.
A header that cannot be parsed never expires the message.
*/
func (msg *Message) Expired(now time.Time) bool {
	raw, ok := msg.Headers[HeaderTimeToBeReceived]
	if !ok {
		return false
	}
	maxAge, err := ParseTimeToBeReceived(raw)
	if err != nil {
		return false
	}
	return msg.Age(now) > maxAge
}

// Clone returns a deep copy so that a queued message can not be changed by its sender.
func (msg *Message) Clone() *Message {
	clone := &Message{
		Headers:   make(map[string]string, len(msg.Headers)),
		CreatedAt: msg.CreatedAt,
	}
	for k, v := range msg.Headers {
		clone.Headers[k] = v
	}
	if msg.Body != nil {
		clone.Body = append([]byte(nil), msg.Body...)
	}
	return clone
}

/*
ParseTimeToBeReceived parses the TimeToBeReceived header. Both the time span form
("hh:mm:ss", "d.hh:mm:ss", "hh:mm:ss.fffffff") and Go durations ("1s", "250ms") are accepted.
*/
func ParseTimeToBeReceived(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, ErrInvalidTimeToBeReceived
	}

	if !strings.Contains(value, ":") {
		if d, err := time.ParseDuration(value); err == nil {
			return d, nil
		}
		days, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeToBeReceived, value)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")
	// only the whole span may carry a sign
	if strings.ContainsAny(value, "+-") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeToBeReceived, value)
	}

	var days int
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeToBeReceived, value)
	}
	if i := strings.Index(parts[0], "."); i >= 0 {
		d, err := strconv.Atoi(parts[0][:i])
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeToBeReceived, value)
		}
		days = d
		parts[0] = parts[0][i+1:]
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeToBeReceived, value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeToBeReceived, value)
	}

	var seconds, fraction time.Duration
	if len(parts) == 3 {
		secPart := parts[2]
		if i := strings.Index(secPart, "."); i >= 0 {
			digits := secPart[i+1:]
			if digits == "" || len(digits) > 7 {
				return 0, fmt.Errorf("%w: %q", ErrInvalidTimeToBeReceived, value)
			}
			ticks, err := strconv.Atoi(digits + strings.Repeat("0", 7-len(digits)))
			if err != nil {
				return 0, fmt.Errorf("%w: %q", ErrInvalidTimeToBeReceived, value)
			}
			fraction = time.Duration(ticks) * 100 * time.Nanosecond
			secPart = secPart[:i]
		}
		s, err := strconv.Atoi(secPart)
		if err != nil || s > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeToBeReceived, value)
		}
		seconds = time.Duration(s) * time.Second
	}

	d := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		seconds + fraction
	if negative {
		d = -d
	}
	return d, nil
}

// FormatTimeToBeReceived writes d in the "hh:mm:ss" time span form, with a day prefix when needed.
func FormatTimeToBeReceived(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second

	s := fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	if d > 0 {
		s += fmt.Sprintf(".%07d", d/100)
	}
	if days > 0 {
		s = fmt.Sprintf("%d.%s", days, s)
	}
	return sign + s
}
