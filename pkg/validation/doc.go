// Package validation guards user-provided names and paths before they reach
// the filesystem or the system keyring.
//
// PathValidator keeps a relative path inside a base directory, following
// symbolic links before checking containment:
//
//	v, err := validation.NewPathValidator(dir)
//	if err != nil {
//	    return err
//	}
//	path, err := v.Validate(id + ".json")
//
// ValidIdentifier accepts names made of letters, digits, hyphens and
// underscores, such as credential keys.
package validation
