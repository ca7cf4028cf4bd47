// Package k8s provides a fleet.Source backed by the Kubernetes API: the
// worker fleet is the set of pods in one namespace matching a label
// selector, and a member is healthy when its pod is Running and Ready.
package k8s
