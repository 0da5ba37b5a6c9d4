package common

import "fmt"

// ConfigurationError reports an invalid session, policy or client setting.
type ConfigurationError struct {
	Component string
	Field     string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("improperly configured %s: `%s` %s", e.Component, e.Field, e.Reason)
}
