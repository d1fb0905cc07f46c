package pins

import "testing"

func TestParseFunction(t *testing.T) {
	t.Run("settable functions", func(t *testing.T) {
		for raw, want := range map[string]Function{
			"input":  FunctionInput,
			"in":     FunctionInput,
			"Output": FunctionOutput,
			"out":    FunctionOutput,
		} {
			got, err := ParseFunction(raw)
			assertNoError(t, err)
			if got != want {
				t.Errorf("for %q got %s want %s", raw, got, want)
			}
		}
	})

	t.Run("alternate functions parse by name", func(t *testing.T) {
		got, err := ParseFunction("spi")
		assertNoError(t, err)
		if got != FunctionSPI {
			t.Errorf("got %s want spi", got)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseFunction("sideways")
		assertErrorIs(t, err, ErrInvalidFunction)
	})
}

func TestParsePull(t *testing.T) {
	got, err := ParsePull("Up")
	assertNoError(t, err)
	if got != PullUp {
		t.Errorf("got %s want up", got)
	}

	got, err = ParsePull("")
	assertNoError(t, err)
	if got != PullFloating {
		t.Errorf("got %s want floating for empty config value", got)
	}

	_, err = ParsePull("sideways")
	assertErrorIs(t, err, ErrInvalidPull)
}

func TestParseEdge(t *testing.T) {
	got, err := ParseEdge("falling")
	assertNoError(t, err)
	if got != EdgeFalling {
		t.Errorf("got %s want falling", got)
	}

	got, err = ParseEdge("")
	assertNoError(t, err)
	if got != EdgeBoth {
		t.Errorf("got %s want both for empty config value", got)
	}

	_, err = ParseEdge("sideways")
	assertErrorIs(t, err, ErrInvalidEdges)
}
