package channels

import "fmt"

// ConfigurationError reports a registry or wiring mistake: an unknown topic,
// a wrong number of key arguments or a missing collaborator. It is meant to
// fail startup, not individual events.
type ConfigurationError struct {
	Topic  TopicID
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Topic == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: topic %q: %s", e.Topic, e.Reason)
}

// UnknownTopicError is returned when an event name is requested that the
// topic never declared.
type UnknownTopicError struct {
	Topic TopicID
	Event EventName
}

func (e *UnknownTopicError) Error() string {
	return fmt.Sprintf("event %q is not declared for topic %q", e.Event, e.Topic)
}

// MalformedEventError wraps a payload that failed decoding or validation.
type MalformedEventError struct {
	Topic TopicID
	Event EventName
	Err   error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s/%s payload: %v", e.Topic, e.Event, e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}
