package handlers

import (
	"net/http"
	"time"
)

var affirmations = []string{
	"Tonight, I choose tenderness, in code and in heart.",
	"I create with care, I share with courage.",
	"My voice is worthy; my story shimmers.",
	"I am patient with progress; I glow in small wins.",
	"Love guides my craft; beauty shapes my path.",
	"I let go of perfection; I embrace presence.",
	"Every commit is a love letter to tomorrow.",
	"kinda hard to write affirmations for your ex",
	"Dont justify; bs walk away",
}

// AffirmationHandler serves the affirmation of the day.
type AffirmationHandler struct {
	NowFunc func() time.Time
}

// Today handles GET /api/v1/affirmation. The affirmation changes at midnight UTC.
func (h AffirmationHandler) Today(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	if h.NowFunc != nil {
		now = h.NowFunc()
	}
	respondJSON(r.Context(), w, http.StatusOK, map[string]string{"affirmation": affirmationFor(now)})
}

func affirmationFor(t time.Time) string {
	day := t.Unix() / int64(24*time.Hour/time.Second)
	return affirmations[day%int64(len(affirmations))]
}
