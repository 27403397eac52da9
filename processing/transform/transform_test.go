package transform

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"logpipe/config"
)

func TestRedactorReplacesPhonePrefix(t *testing.T) {
	r := NewRedactor(config.TransformConfig{Redactions: map[string]string{"555-": "[REDACTED]-"}})

	out, err := r.Transform(context.Background(), "call 555-1234")
	require.NoError(t, err)
	assert.Equal(t, "call [REDACTED]-1234", out)

	out, err = r.Transform(context.Background(), "555-1 and 555-2")
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]-1 and [REDACTED]-2", out)

	out, err = r.Transform(context.Background(), "nothing to hide")
	require.NoError(t, err)
	assert.Equal(t, "nothing to hide", out)
}

func TestRedactorPrefersLongerPatterns(t *testing.T) {
	r := NewRedactor(config.TransformConfig{Redactions: map[string]string{
		"555":      "X",
		"555-0100": "[TEST NUMBER]",
	}})
	out, err := r.Transform(context.Background(), "555-0100 555")
	require.NoError(t, err)
	assert.Equal(t, "[TEST NUMBER] X", out)
}

func TestRedactorCost(t *testing.T) {
	r := NewRedactor(config.TransformConfig{CostPerChar: 50 * time.Millisecond})
	assert.Equal(t, 650*time.Millisecond, r.Cost("call 555-1234"))
	assert.Equal(t, 100*time.Millisecond, r.Cost("é!"))
}

func TestRedactorWaitsOnClock(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Now())
	r := NewRedactor(config.TransformConfig{
		CostPerChar: 50 * time.Millisecond,
		Redactions:  map[string]string{"555-": "[REDACTED]-"},
	}, WithClock(fc))

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := r.Transform(context.Background(), "call 555-1234")
		done <- result{out, err}
	}()

	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("transform returned before its cost elapsed")
	default:
	}

	fc.Step(650 * time.Millisecond)
	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, "call [REDACTED]-1234", res.out)
	case <-time.After(time.Second):
		t.Fatal("transform did not finish after its cost elapsed")
	}
}

func TestRedactorHonoursContext(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Now())
	r := NewRedactor(config.TransformConfig{CostPerChar: time.Second}, WithClock(fc))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Transform(ctx, "abc")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedactorRejectsLongText(t *testing.T) {
	r := NewRedactor(config.TransformConfig{MaxTextLength: 5})
	_, err := r.Transform(context.Background(), "123456")
	assert.True(t, errors.Is(err, ErrTextTooLong))

	_, err = r.Transform(context.Background(), "12345")
	assert.NoError(t, err)
}

func TestTransformFunc(t *testing.T) {
	var tr Transformer = TransformFunc(func(_ context.Context, text string) (string, error) {
		return text + "!", nil
	})
	out, err := tr.Transform(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi!", out)
}
