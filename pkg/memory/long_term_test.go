package memory

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/minne/pkg/convo"
)

// keywordEmbedder maps known texts to fixed vectors so similarity
// ordering is predictable in tests. Unknown texts embed to zero.
type keywordEmbedder struct {
	vectors map[string][]float32
	dims    int
}

func (embedder *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := embedder.vectors[text]; ok {
		return vector, nil
	}
	return make([]float32, embedder.dims), nil
}

func (embedder *keywordEmbedder) Dims() int {
	return embedder.dims
}

func TestLongTermSearchOrdering(t *testing.T) {
	Convey("Given fragments from two callers", t, func() {
		embedder := &keywordEmbedder{
			dims: 2,
			vectors: map[string][]float32{
				"query":  {1, 0},
				"closer": {1, 0},
				"close":  {0.9, 0.1},
				"far":    {0, 1},
				"other":  {1, 0},
			},
		}

		store := NewMemoryVectorStore()
		longterm := NewLongTerm(embedder, store)
		ctx := context.Background()

		for _, text := range []string{"close", "closer", "far"} {
			So(longterm.Insert(ctx, convo.NewFragment("alice", "s1", text)), ShouldBeNil)
		}
		So(longterm.Insert(ctx, convo.NewFragment("bob", "s2", "other")), ShouldBeNil)

		Convey("Search returns the caller's fragments most similar first", func() {
			fragments, err := longterm.Search(ctx, "alice", "query", 2)
			So(err, ShouldBeNil)
			So(len(fragments), ShouldEqual, 2)
			So(fragments[0].Text, ShouldEqual, "closer")
			So(fragments[1].Text, ShouldEqual, "close")
		})

		Convey("Another caller's fragments stay invisible", func() {
			fragments, err := longterm.Search(ctx, "bob", "query", 10)
			So(err, ShouldBeNil)
			So(len(fragments), ShouldEqual, 1)
			So(fragments[0].Text, ShouldEqual, "other")
		})

		Convey("Zero k returns nothing", func() {
			fragments, err := longterm.Search(ctx, "alice", "query", 0)
			So(err, ShouldBeNil)
			So(fragments, ShouldBeEmpty)
		})
	})
}

func TestLongTermTieBreak(t *testing.T) {
	Convey("Given two fragments equally similar to the query", t, func() {
		embedder := &keywordEmbedder{
			dims: 2,
			vectors: map[string][]float32{
				"query": {1, 0},
				"twin":  {1, 0},
			},
		}

		store := NewMemoryVectorStore()
		longterm := NewLongTerm(embedder, store)
		ctx := context.Background()

		older := convo.NewFragment("alice", "s1", "twin")
		older.CreatedAt = time.Now().Add(-time.Hour)
		newer := convo.NewFragment("alice", "s1", "twin")

		So(longterm.Insert(ctx, older), ShouldBeNil)
		So(longterm.Insert(ctx, newer), ShouldBeNil)

		Convey("The newer fragment wins the tie", func() {
			fragments, err := longterm.Search(ctx, "alice", "query", 1)
			So(err, ShouldBeNil)
			So(len(fragments), ShouldEqual, 1)
			So(fragments[0].ID, ShouldEqual, newer.ID)
		})
	})
}

func TestLongTermInsert(t *testing.T) {
	Convey("Given a long-term store over a mock embedder", t, func() {
		longterm := NewLongTerm(NewMockEmbedder(8), NewMemoryVectorStore())
		ctx := context.Background()

		Convey("A fragment without a caller is rejected", func() {
			So(longterm.Insert(ctx, convo.MemoryFragment{ID: "f1", Text: "hello"}), ShouldNotBeNil)
		})

		Convey("A pre-embedded fragment with the wrong dims is rejected", func() {
			fragment := convo.NewFragment("alice", "s1", "hello")
			fragment.Embedding = []float32{1, 2, 3}
			So(longterm.Insert(ctx, fragment), ShouldNotBeNil)
		})

		Convey("Text gets embedded on insert when no vector is attached", func() {
			So(longterm.Insert(ctx, convo.NewFragment("alice", "s1", "hello")), ShouldBeNil)

			fragments, err := longterm.Search(ctx, "alice", "hello", 1)
			So(err, ShouldBeNil)
			So(len(fragments), ShouldEqual, 1)
			So(fragments[0].Text, ShouldEqual, "hello")
		})
	})
}
