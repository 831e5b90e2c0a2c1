package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"maps"
	"slices"
	"strings"

	"github.com/Learath2/libtw2/logging"
)

// Console writes one human readable line per event.
type Console struct {
	logger    *log.Logger
	showExtra bool
}

func NewConsole(w io.Writer, cfg logging.ConsoleConfig) *Console {
	return &Console{logger: log.New(w, "", log.LstdFlags), showExtra: cfg.ShowExtra}
}

func (s *Console) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] tick=%d actor=%s severity=%s", event.Type, event.Tick, formatEntity(event.Actor), event.Severity)
	b.WriteString(formatPayload(event.Payload))
	if s.showExtra {
		b.WriteString(formatExtra(event.Extra))
	}
	s.logger.Print(b.String())
	return nil
}

func (s *Console) Close(context.Context) error {
	return nil
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(" payload=%v", payload)
	}
	return fmt.Sprintf(" payload=%s", data)
}

func formatExtra(extra map[string]any) string {
	if len(extra) == 0 {
		return ""
	}
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		fmt.Fprintf(&b, " %s=%v", k, extra[k])
	}
	return b.String()
}
