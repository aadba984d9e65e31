package job

import (
	"bytes"
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	want := Envelope{Kind: KindMessage, Payload: []byte("hello world")}
	assert.NilError(t, writeEnvelope(&buf, want))

	got, err := readEnvelope(&buf)
	assert.NilError(t, err)
	assert.Equal(t, got.Kind, want.Kind)
	assert.DeepEqual(t, got.Payload, want.Payload)
}

func TestEnvelopeRoundTripEmptyPayload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	want := Envelope{Kind: KindResult}
	assert.NilError(t, writeEnvelope(&buf, want))

	got, err := readEnvelope(&buf)
	assert.NilError(t, err)
	assert.Equal(t, got.Kind, KindResult)
	assert.Equal(t, len(got.Payload), 0)
}

func TestJobEchoesFramedData(t *testing.T) {
	t.Parallel()

	j := New("echo-test", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := j.Start(ctx, []string{"/bin/cat"})
	assert.NilError(t, err)

	payload := []byte("ping")
	assert.NilError(t, j.Send(Envelope{Kind: KindMessage, Payload: payload}))

	select {
	case env, ok := <-out:
		assert.Assert(t, ok)
		assert.DeepEqual(t, env.Payload, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed envelope")
	}

	assert.NilError(t, j.Kill())
}

func TestJobRetriesOnFailure(t *testing.T) {
	t.Parallel()

	j := New("fail-test", 2)
	ctx := context.Background()

	_, err := j.Start(ctx, []string{"/bin/false"})
	assert.NilError(t, err)

	restarts := 0
	var restart func(ctx context.Context) (<-chan Envelope, error)
	restart = func(ctx context.Context) (<-chan Envelope, error) {
		restarts++
		if restarts > 2 {
			return nil, nil
		}
		nj, serr := j.Start(ctx, []string{"/bin/false"})
		if serr != nil {
			return nil, serr
		}
		_, werr := j.Wait(ctx, restart)
		return nj, werr
	}

	_, err = j.Wait(ctx, restart)
	assert.Assert(t, err != nil)
	assert.Equal(t, j.StatusNow(), StatusFailed)
}
