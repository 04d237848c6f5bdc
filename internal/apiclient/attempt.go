package apiclient

type attemptNumber int

const (
	firstAttempt attemptNumber = iota
	retryAttempt
)

// attempt is one send of a request. Only a first attempt has a successor, so a
// request is re-issued at most once no matter how often the server says 401.
type attempt struct {
	req  *Request
	body []byte
	n    attemptNumber
}

func (a attempt) next() (attempt, bool) {
	if a.n != firstAttempt {
		return attempt{}, false
	}
	return attempt{req: a.req, body: a.body, n: retryAttempt}, true
}
