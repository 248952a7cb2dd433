package router

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/minne/pkg/convo"
)

func TestClassify(t *testing.T) {
	Convey("Given the keyword classifier", t, func() {
		Convey("Summarization keywords match", func() {
			classification := Classify("Please summarize this document")
			So(classification.Intent, ShouldEqual, IntentSummarization)
			So(classification.Confidence, ShouldAlmostEqual, 0.2, 0.0001)
		})

		Convey("Multi-word keywords match too", func() {
			So(Classify("can you sum up the meeting").Intent, ShouldEqual, IntentSummarization)
		})

		Convey("Earlier rules win when several intents match", func() {
			// "code" belongs to code generation, but the
			// troubleshooting keywords fire first
			classification := Classify("my code has a bug, fix the error")
			So(classification.Intent, ShouldEqual, IntentTroubleshooting)
			So(classification.Confidence, ShouldAlmostEqual, 3.0/7.0, 0.0001)
		})

		Convey("Keywords only match whole words", func() {
			So(Classify("the summary committee").Intent, ShouldEqual, IntentSummarization)
			So(Classify("classical music, methodical study").Intent, ShouldEqual, IntentGeneralDialogue)
		})

		Convey("Unmatched messages are general dialogue at half confidence", func() {
			classification := Classify("hello there")
			So(classification.Intent, ShouldEqual, IntentGeneralDialogue)
			So(classification.Confidence, ShouldAlmostEqual, 0.5, 0.0001)
		})
	})
}

func TestRoute(t *testing.T) {
	Convey("Given the default router", t, func() {
		router := NewRouter()

		Convey("A summarization request goes cheap first", func() {
			plan := router.Route("summarize our chat", convo.Hints{}, 100)
			So(plan.Models, ShouldResemble, []string{"gpt-3.5-turbo", "gpt-4o"})
			So(plan.Intent, ShouldEqual, IntentSummarization)
			So(plan.Reason, ShouldEqual, "cheap intent")
		})

		Convey("An oversize prompt goes cheap first regardless of intent", func() {
			plan := router.Route("hello", convo.Hints{}, 6001)
			So(plan.Models, ShouldResemble, []string{"gpt-3.5-turbo", "gpt-4o"})
			So(plan.Reason, ShouldEqual, "prompt over size threshold")
		})

		Convey("A prompt exactly at the threshold stays costly first", func() {
			plan := router.Route("hello", convo.Hints{}, 6000)
			So(plan.Models, ShouldResemble, []string{"gpt-4o", "gpt-3.5-turbo"})
		})

		Convey("Anything else goes costly first", func() {
			plan := router.Route("tell me about goats", convo.Hints{}, 100)
			So(plan.Models, ShouldResemble, []string{"gpt-4o", "gpt-3.5-turbo"})
			So(plan.Intent, ShouldEqual, IntentGeneralDialogue)
		})

		Convey("A client hint overrides classification", func() {
			plan := router.Route("tell me about goats", convo.Hints{Intent: IntentSummarization}, 100)
			So(plan.Models[0], ShouldEqual, "gpt-3.5-turbo")
			So(plan.Confidence, ShouldAlmostEqual, 1.0, 0.0001)
		})
	})

	Convey("Given a router with extra cheap intents", t, func() {
		router := NewRouter(WithCheapIntent(IntentTroubleshooting))

		Convey("The added intent routes cheap first", func() {
			plan := router.Route("fix this bug", convo.Hints{}, 100)
			So(plan.Models[0], ShouldEqual, "gpt-3.5-turbo")
		})
	})

	Convey("Given a router where both models are the same", t, func() {
		router := NewRouter(WithModels("local", "local"))

		Convey("The plan holds the single model once and is never empty", func() {
			plan := router.Route("hello", convo.Hints{}, 10)
			So(plan.Models, ShouldResemble, []string{"local"})
		})
	})
}
