// Package gitlab implements scm.Port against the GitLab REST API v4,
// the same-shaped sibling to internal/adapter/github (§13's resolution
// of the two-SCMPort-shapes Open Question: one interface, both providers
// implement it fully).
package gitlab
