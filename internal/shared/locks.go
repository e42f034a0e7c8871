package shared

import "fmt"

// RebuildLockKey builds redis keys guarding reconciliation cache rebuilds.
func RebuildLockKey(sourceType string) string {
	return fmt.Sprintf("finance:rebuild:%s:lock", sourceType)
}
