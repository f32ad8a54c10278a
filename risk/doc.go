// Package risk scores how far a request's live context has drifted from the
// context captured when its token was issued. The score is a 0–100 heuristic
// for step-up prompts and alerting; scoring never rejects a request by itself.
package risk
