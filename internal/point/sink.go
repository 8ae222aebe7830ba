package point

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "sink")

// Sink is anything that can accept a batch of points. Collectors and
// workers both write their stats/point streams through a Sink.
type Sink interface {
	Write(ctx context.Context, points []Point) error
}

// StdoutSink writes one newline-terminated line-protocol line per point.
// This is the default sink: a local Telegraf (or any exec input consumer)
// picks up stdout.
type StdoutSink struct {
	Out io.Writer
}

// NewStdoutSink returns a sink writing to os.Stdout.
func NewStdoutSink() *StdoutSink {
	return &StdoutSink{Out: os.Stdout}
}

func (s *StdoutSink) Write(_ context.Context, points []Point) error {
	if s.Out == nil {
		s.Out = os.Stdout
	}
	for _, p := range points {
		if _, err := fmt.Fprintln(s.Out, p.Line()); err != nil {
			return err
		}
	}
	return nil
}

// HTTPSink batches points into chunks of up to ChunkSize lines and POSTs
// each chunk, newline-joined, to Addr. Responses other than 200, 201 and
// 204 are logged and never retried, per the sink failure policy.
type HTTPSink struct {
	Addr      string
	ChunkSize int
	Client    *http.Client
}

// NewHTTPSink returns a sink posting to addr with a 5 second per-request
// timeout and the default 1000-line chunk size.
func NewHTTPSink(addr string) *HTTPSink {
	return &HTTPSink{
		Addr:      addr,
		ChunkSize: 1000,
		Client:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSink) Write(ctx context.Context, points []Point) error {
	if s.Client == nil {
		s.Client = &http.Client{Timeout: 5 * time.Second}
	}
	for _, chunk := range Chunks(points, s.ChunkSize) {
		var buf bytes.Buffer
		for i, p := range chunk {
			if i > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(p.Line())
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Addr, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return err
		}
		resp, err := s.Client.Do(req)
		if err != nil {
			log.WithError(err).Warn("failed to post datapoints to sink")
			continue
		}
		resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		default:
			log.WithField("status", resp.StatusCode).Warn("sink returned non-success status")
		}
	}
	return nil
}
