package pathguard

import "privacycore/internal/errs"

var (
	errEmpty       = errs.New(errs.KindUserInput, "path is empty or whitespace-only")
	errSuspicious  = errs.New(errs.KindPolicyViolation, "path contains a suspicious substring")
	errTraversal   = errs.New(errs.KindPolicyViolation, "path contains a \"..\" segment")
	errBase        = errs.New(errs.KindInternal, "could not resolve base directory")
	errOutsideBase = errs.New(errs.KindPolicyViolation, "path resolves outside its base directory")
	errBlockedExt  = errs.New(errs.KindPolicyViolation, "path has a blocked extension")
	errNotExist    = errs.New(errs.KindUserInput, "path does not exist")
)
