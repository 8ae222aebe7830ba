package point

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineWithTags(t *testing.T) {
	p := New("m")
	p.SetTag("a", "1")
	p.SetField("f", int64(2))
	p.Timestamp = time.Unix(0, 100)

	assert.Equal(t, "m,a=1 f=2 100", p.Line())
}

func TestLineWithoutTags(t *testing.T) {
	p := New("m")
	p.SetField("f", int64(2))
	p.Timestamp = time.Unix(0, 100)

	assert.Equal(t, "m f=2 100", p.Line())
}

func TestSetFieldDropsNonNumeric(t *testing.T) {
	p := New("m")
	p.SetField("f", "not-a-number")
	assert.Empty(t, p.Fields)

	p.SetField("g", "42")
	assert.Equal(t, int64(42), p.Fields["g"])
}

func TestSetTagStripsReservedCharacters(t *testing.T) {
	p := New("m")
	p.SetTag("a", "has space,and=equals")
	assert.Equal(t, "has_space_and_equals", p.Tags["a"])
}

func TestChunks(t *testing.T) {
	points := make([]Point, 2500)
	chunks := Chunks(points, 1000)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 500)
}

func TestHTTPSinkPostsChunkedBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL)
	p1 := New("m")
	p1.SetField("f", int64(1))
	p1.Timestamp = time.Unix(0, 1)
	p2 := New("m")
	p2.SetField("f", int64(2))
	p2.Timestamp = time.Unix(0, 2)

	require.NoError(t, sink.Write(context.Background(), []Point{p1, p2}))
	assert.Equal(t, "m f=1 1\nm f=2 2", gotBody)
}
