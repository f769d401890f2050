package supervisor

import "strings"

// licenseSignatures are matched case-insensitively against early output.
var licenseSignatures = []string{
	"license not found",
	"no license found",
}

// DetectLicenseFailure reports whether line carries a licence failure
// signature and returns the matched signature.
func DetectLicenseFailure(line string) (string, bool) {
	lower := strings.ToLower(line)
	for _, sig := range licenseSignatures {
		if strings.Contains(lower, sig) {
			return sig, true
		}
	}
	return "", false
}
