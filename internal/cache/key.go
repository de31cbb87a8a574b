package cache

// Namespace prefixes every key produced by the typed constructors below.
const Namespace = "numerology"

// Key builds a "<namespace>:<resource>:<scope>" cache key. Keys are kept
// human-readable so a debug dump of the store is meaningful.
func Key(namespace, resource, scope string) string {
	return namespace + ":" + resource + ":" + scope
}

func scopeOrCurrent(userID string) string {
	if userID == "" {
		return "current"
	}
	return userID
}

// ProfileKey keys a user's numerology profile. An empty userID means the
// authenticated user.
func ProfileKey(userID string) string {
	return Key(Namespace, "profile", scopeOrCurrent(userID))
}

// ReadingKey keys the daily reading for a date in YYYY-MM-DD form.
func ReadingKey(date string) string {
	return Key(Namespace, "reading", date)
}

// CompatibilityKey keys a compatibility report between two profiles. The
// pair is ordered so both argument orders hit the same entry.
func CompatibilityKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return Key(Namespace, "compatibility", a+"+"+b)
}

// SubscriptionKey keys a user's subscription status.
func SubscriptionKey(userID string) string {
	return Key(Namespace, "subscription", scopeOrCurrent(userID))
}

// NotificationsKey keys a user's notification feed.
func NotificationsKey(userID string) string {
	return Key(Namespace, "notifications", scopeOrCurrent(userID))
}
