package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lotuspar/libblitz/logging"
)

// ConsoleSink writes one logfmt-style line per event.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	if w == nil {
		w = io.Discard
	}
	return &ConsoleSink{w: w}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	var b strings.Builder
	b.WriteString(event.Time.UTC().Format(time.RFC3339Nano))
	field(&b, "level", event.Severity.String())
	field(&b, "event", string(event.Type))
	if event.Category != "" {
		field(&b, "category", event.Category)
	}
	if event.SessionID != "" {
		field(&b, "session", event.SessionID)
	}
	if event.Seq > 0 {
		field(&b, "seq", strconv.FormatUint(event.Seq, 10))
	}
	if ref := formatEntity(event.Actor); ref != "" {
		field(&b, "actor", ref)
	}
	if len(event.Targets) > 0 {
		refs := make([]string, 0, len(event.Targets))
		for _, target := range event.Targets {
			refs = append(refs, formatEntity(target))
		}
		field(&b, "targets", strings.Join(refs, ","))
	}
	if event.Payload != nil {
		field(&b, "payload", encodeValue(event.Payload))
	}
	for _, key := range slices.Sorted(maps.Keys(event.Extra)) {
		field(&b, key, encodeValue(event.Extra[key]))
	}
	if event.TraceID != "" {
		field(&b, "trace", event.TraceID)
	}
	b.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, b.String())
	return err
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func field(b *strings.Builder, key, value string) {
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	if value == "" || strings.ContainsAny(value, " \t\"=") {
		b.WriteString(strconv.Quote(value))
		return
	}
	b.WriteString(value)
}

func formatEntity(ref logging.EntityRef) string {
	switch {
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	default:
		return string(ref.Kind) + ":" + ref.ID
	}
}

func encodeValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

