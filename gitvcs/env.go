package gitvcs

import (
	"fmt"
	"os"
)

// safeGitEnv returns a minimal, allowlisted environment for git subprocesses:
// no GIT_* variable is inherited from the caller's environment (identity,
// object-directory, and index-path variables could all redirect git to
// unexpected state), and a handful of overrides keep a non-interactive
// invocation from ever blocking on a prompt or touching system-wide config.
func safeGitEnv() []string {
	essentialVars := []string{
		"PATH", "HOME", "USER", "TMPDIR", "TEMP", "TMP",
		"LANG", "LC_ALL", "LC_CTYPE", "SHELL", "TERM",
	}

	env := make([]string, 0, len(essentialVars)+8)
	for _, key := range essentialVars {
		if value, ok := os.LookupEnv(key); ok {
			env = append(env, fmt.Sprintf("%s=%s", key, value))
		}
	}

	return append(env,
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_CONFIG_NOGLOBAL=1",
		"GIT_TERMINAL_PROMPT=0",
		"GIT_SSH_COMMAND=ssh -o BatchMode=yes -o StrictHostKeyChecking=accept-new",
		"GIT_ASKPASS=/bin/true",
		"GIT_EDITOR=/bin/true",
		"GIT_PAGER=cat",
		"GIT_ATTR_NOSYSTEM=1",
	)
}
