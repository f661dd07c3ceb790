// Package conversation resolves rooms to groups and direct pairs and
// decides who may join or post to them.
package conversation
