package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/minne/pkg/convo"
)

func TestQdrantStoreQuery(t *testing.T) {
	Convey("Given a qdrant store and a search endpoint", t, func() {
		var searchBody map[string]any

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/points/search") {
				json.NewDecoder(r.Body).Decode(&searchBody)
				fmt.Fprint(w, `{"result":[
					{"score":0.92,"payload":{"fragment_id":"f1","text":"first","caller_id":"alice","session_id":"s1","created_at":"2025-06-01T10:00:00Z"}},
					{"score":0.81,"payload":{"fragment_id":"f2","text":"second","caller_id":"alice","session_id":"s1","created_at":"2025-06-02T10:00:00Z","tags":["user"]}}
				]}`)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		store := NewQdrantStore(ts.URL, "fragments")
		fragments, err := store.Query(context.Background(), []float32{0.1, 0.2}, "alice", 5)

		Convey("Then fragments are parsed with scores and payload fields", func() {
			So(err, ShouldBeNil)
			So(len(fragments), ShouldEqual, 2)
			So(fragments[0].ID, ShouldEqual, "f1")
			So(fragments[0].Score, ShouldAlmostEqual, 0.92, 0.0001)
			So(fragments[0].Text, ShouldEqual, "first")
			So(fragments[0].CallerID, ShouldEqual, "alice")
			So(fragments[1].Tags, ShouldResemble, []string{"user"})
		})

		Convey("And the search body filters on the caller", func() {
			filter := searchBody["filter"].(map[string]any)
			must := filter["must"].([]any)
			condition := must[0].(map[string]any)
			So(condition["key"], ShouldEqual, "caller_id")
			So(condition["match"].(map[string]any)["value"], ShouldEqual, "alice")
			So(searchBody["limit"], ShouldEqual, 5)
		})
	})
}

func TestQdrantStoreInsert(t *testing.T) {
	Convey("Given a qdrant store and an empty server", t, func() {
		var (
			createdCollection bool
			pointsBody        map[string]any
		)

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodGet && r.URL.Path == "/collections/fragments":
				if createdCollection {
					w.WriteHeader(http.StatusOK)
				} else {
					w.WriteHeader(http.StatusNotFound)
				}
			case r.Method == http.MethodPut && r.URL.Path == "/collections/fragments":
				createdCollection = true
				w.WriteHeader(http.StatusOK)
			case r.Method == http.MethodPut && r.URL.Path == "/collections/fragments/points":
				json.NewDecoder(r.Body).Decode(&pointsBody)
				w.WriteHeader(http.StatusOK)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer ts.Close()

		store := NewQdrantStore(ts.URL, "fragments")

		Convey("Inserting creates the collection and writes the point", func() {
			fragment := convo.NewFragment("alice", "s1", "remember this", "user")
			fragment.Embedding = []float32{0.5, 0.5}

			So(store.Insert(context.Background(), fragment), ShouldBeNil)
			So(createdCollection, ShouldBeTrue)

			points := pointsBody["points"].([]any)
			So(len(points), ShouldEqual, 1)

			point := points[0].(map[string]any)
			So(uuid.Validate(point["id"].(string)), ShouldBeNil)

			payload := point["payload"].(map[string]any)
			So(payload["fragment_id"], ShouldEqual, fragment.ID)
			So(payload["caller_id"], ShouldEqual, "alice")
			So(payload["text"], ShouldEqual, "remember this")
		})

		Convey("A fragment without an embedding is rejected before any request", func() {
			So(store.Insert(context.Background(), convo.NewFragment("alice", "s1", "no vector")), ShouldNotBeNil)
		})
	})
}

func TestQdrantStorePing(t *testing.T) {
	Convey("Given a qdrant server", t, func() {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		store := NewQdrantStore(ts.URL, "fragments")

		Convey("Ping succeeds while it is reachable and fails once it is gone", func() {
			So(store.Ping(context.Background()), ShouldBeNil)
			ts.Close()
			So(store.Ping(context.Background()), ShouldNotBeNil)
		})
	})
}
