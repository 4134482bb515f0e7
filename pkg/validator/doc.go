// Package validator provides small, composable validation rules.
//
// A Rule pairs a check with the error reported when it fails. Apply runs
// every rule and returns ValidationErrors listing all failures, so a caller
// can report every invalid field at once:
//
//	err := validator.Apply(
//	    validator.ValidEmail("email", req.Email),
//	    validator.RequiredString("name", req.Name),
//	    validator.Accepted("termsAccepted", req.TermsAccepted),
//	)
//	if errs := validator.ExtractValidationErrors(err); errs != nil {
//	    // errs.Map() -> {"email": ["must be a valid email address"], ...}
//	}
//
// Custom rules are plain Rule values with a closure in Check.
package validator
