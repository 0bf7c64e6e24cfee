// Package contrib holds packages built on top of the data-sync core that are
// not part of it.
//
// [github.com/whyfailclub/whyfail.go/contrib/community] implements the
// WhyFail.club features (journals, public stories, MenTalk sessions, SOS
// requests, reports, analytics) as consumers of the core, and
// [github.com/whyfailclub/whyfail.go/contrib/testenv] builds clients over
// throwaway backends for tests.
//
// Packages here are outside the compatibility guarantees of the core.
package contrib
