package config

import "net/url"

const redacted = "[REDACTED]"

// Redacted returns a copy safe to print: the Redis password and any
// password embedded in the storage DSN or webhook URL are masked
func (c *Config) Redacted() *Config {
	out := *c
	if out.Redis.Password != "" {
		out.Redis.Password = redacted
	}
	out.Storage.DSN = redactURL(out.Storage.DSN)
	out.Explain.WebhookURL = redactURL(out.Explain.WebhookURL)
	return &out
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
