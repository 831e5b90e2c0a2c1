package sinks

import (
	"fmt"
	"io"
	"os"

	"github.com/Learath2/libtw2/logging"
)

// Build instantiates the sinks named in cfg.EnabledSinks. Console output
// goes to stdout. The json sink appends to cfg.JSON.FilePath, or writes to
// stdout when no path is set.
func Build(cfg logging.Config, stdout io.Writer) ([]logging.NamedSink, error) {
	var out []logging.NamedSink
	for _, name := range cfg.EnabledSinks {
		switch name {
		case "console":
			out = append(out, logging.NamedSink{Name: name, Sink: NewConsole(stdout, cfg.Console)})
		case "json":
			if cfg.JSON.FilePath == "" {
				out = append(out, logging.NamedSink{Name: name, Sink: NewJSON(stdout, cfg.JSON.FlushInterval)})
				continue
			}
			f, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open json log %s: %w", cfg.JSON.FilePath, err)
			}
			sink := NewJSON(f, cfg.JSON.FlushInterval)
			sink.closer = f
			out = append(out, logging.NamedSink{Name: name, Sink: sink})
		case "memory":
			out = append(out, logging.NamedSink{Name: name, Sink: NewMemory()})
		case "":
		default:
			return nil, fmt.Errorf("unknown log sink %q", name)
		}
	}
	return out, nil
}
