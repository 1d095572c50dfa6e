package format

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_FitsInOneSegment(t *testing.T) {
	assert.Equal(t, []string{"hello"}, Split("hello", 2000))
	assert.Nil(t, Split("", 10))
}

func TestSplit_LongSingleWord(t *testing.T) {
	text := strings.Repeat("a", 3000)

	segments := Split(text, 2000)

	require.Len(t, segments, 2)
	assert.Len(t, segments[0], 2000)
	assert.Len(t, segments[1], 1000)
	assert.Equal(t, text, strings.Join(segments, ""))
}

func TestSplit_PrefersLineBoundaries(t *testing.T) {
	text := "first line\nsecond line\nthird line"

	segments := Split(text, 24)

	assert.Equal(t, []string{"first line\nsecond line\n", "third line"}, segments)
}

func TestSplit_FallsBackToWords(t *testing.T) {
	text := "alpha beta gamma delta"

	segments := Split(text, 11)

	assert.Equal(t, []string{"alpha beta ", "gamma delta"}, segments)
}

func TestSplit_LongLineAmongShortOnes(t *testing.T) {
	text := "short\n" + strings.Repeat("word ", 10) + "\nend"

	segments := Split(text, 12)

	for _, seg := range segments {
		assert.LessOrEqual(t, utf8.RuneCountInString(seg), 12)
	}
	assert.Equal(t, text, strings.Join(segments, ""))
	assert.Equal(t, "short\n", segments[0])
}

func TestSplit_CountsRunes(t *testing.T) {
	text := strings.Repeat("ü", 5)

	segments := Split(text, 2)

	assert.Equal(t, []string{"üü", "üü", "ü"}, segments)
}

func TestSplit_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("ab cd\nef  gh\n\nüß")

	for i := 0; i < 300; i++ {
		n := rng.Intn(400)
		runes := make([]rune, n)
		for j := range runes {
			runes[j] = alphabet[rng.Intn(len(alphabet))]
		}
		text := string(runes)
		maxLen := 4 + rng.Intn(60)

		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			segments := Split(text, maxLen)
			for _, seg := range segments {
				assert.LessOrEqual(t, utf8.RuneCountInString(seg), maxLen, "segment exceeds bound")
				assert.NotEmpty(t, seg)
			}
			joined := strings.Join(segments, "")
			assert.Equal(t, text, joined, "concatenation must preserve text")
			assert.Equal(t, segments, Split(joined, maxLen), "split must be idempotent")
			for _, seg := range segments {
				assert.Equal(t, []string{seg}, Split(seg, maxLen), "valid segment must be unchanged")
			}
		})
	}
}

func TestSplitWithContinuation(t *testing.T) {
	t.Run("single segment has no marker", func(t *testing.T) {
		assert.Equal(t, []string{"hi"}, SplitWithContinuation("hi", 100, ContinuationMarker))
	})

	t.Run("marker prefixed and bound respected", func(t *testing.T) {
		text := strings.Repeat("x", 250)
		maxLen := 100

		segments := SplitWithContinuation(text, maxLen, ContinuationMarker)

		require.Greater(t, len(segments), 2)
		assert.False(t, strings.HasPrefix(segments[0], ContinuationMarker))
		var rebuilt strings.Builder
		for i, seg := range segments {
			assert.LessOrEqual(t, utf8.RuneCountInString(seg), maxLen)
			if i > 0 {
				require.True(t, strings.HasPrefix(seg, ContinuationMarker))
				seg = strings.TrimPrefix(seg, ContinuationMarker)
			}
			rebuilt.WriteString(seg)
		}
		assert.Equal(t, text, rebuilt.String())
	})

	t.Run("marker longer than limit is dropped", func(t *testing.T) {
		segments := SplitWithContinuation("abcdefgh", 4, ContinuationMarker)
		assert.Equal(t, []string{"abcd", "efgh"}, segments)
	})
}
