//go:build !unix

package fsops

func isEXDEV(err error) bool { return false }
