package conversation

import (
	"fmt"
	"strings"
)

// Policy decides what Submit does while a message is still awaiting its reply.
type Policy string

const (
	// PolicyQueue appends the message and answers it after the current one.
	PolicyQueue Policy = "queue"
	// PolicyReplace appends the message and makes it the only one awaiting a
	// reply; the reply to the superseded message is dropped.
	PolicyReplace Policy = "replace"
	// PolicyReject refuses the message and leaves state untouched.
	PolicyReject Policy = "reject"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyQueue, PolicyReplace, PolicyReject:
		return p, nil
	case "":
		return PolicyQueue, nil
	default:
		return "", fmt.Errorf("unknown busy policy %q (want queue, replace or reject)", s)
	}
}
