package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"golang.org/x/text/language"

	"github.com/MikeSquared-Agency/concierge/internal/gateway"
)

type errorBody struct {
	Error       string `json:"error"`
	Kind        string `json:"kind,omitempty"`
	RetryAfter  int    `json:"retry_after,omitempty"`
	Unavailable bool   `json:"unavailable,omitempty"`
}

var statusByKind = map[gateway.Kind]int{
	gateway.KindValidation:       http.StatusBadRequest,
	gateway.KindRateLimit:        http.StatusTooManyRequests,
	gateway.KindAuthorization:    http.StatusForbidden,
	gateway.KindSensitiveContent: http.StatusUnprocessableEntity,
	gateway.KindNotFound:         http.StatusNotFound,
	gateway.KindProviderFailure:  http.StatusBadGateway,
	gateway.KindConfiguration:    http.StatusOK,
}

// writeError maps a gateway error to a response. Errors without a kind are
// internal and their detail stays in the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ge *gateway.Error
	if !errors.As(err, &ge) {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}

	body := errorBody{Error: ge.Message, Kind: string(ge.Kind)}
	switch ge.Kind {
	case gateway.KindRateLimit:
		secs := int(math.Ceil(ge.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body.RetryAfter = secs
		body.Error = rateLimitHint(r.Header.Get("Accept-Language"), secs)
	case gateway.KindProviderFailure:
		s.logger.Warn("assistant request failed", "path", r.URL.Path, "error", err)
	case gateway.KindConfiguration:
		body.Unavailable = true
	}
	writeJSON(w, statusByKind[ge.Kind], body)
}

var hintLanguages = []language.Tag{language.English, language.Czech, language.German}

var hintMatcher = language.NewMatcher(hintLanguages)

var rateHints = map[language.Tag]string{
	language.English: "You are sending messages too quickly. Please try again in %d seconds.",
	language.Czech:   "Posíláte zprávy příliš rychle. Zkuste to prosím znovu za %d s.",
	language.German:  "Sie senden zu viele Nachrichten. Bitte versuchen Sie es in %d Sekunden erneut.",
}

// rateLimitHint localizes the retry hint from an Accept-Language header.
// Unknown or missing languages get English.
func rateLimitHint(acceptLanguage string, seconds int) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil {
		tags = nil
	}
	_, idx, conf := hintMatcher.Match(tags...)
	if conf == language.No {
		idx = 0
	}
	return fmt.Sprintf(rateHints[hintLanguages[idx]], seconds)
}
