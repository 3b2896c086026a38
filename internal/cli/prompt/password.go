package prompt

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
)

// ErrPasswordMismatch means the confirmation did not repeat the
// password.
var ErrPasswordMismatch = errors.New("passwords do not match")

// minPasswordLen mirrors the register endpoint's password rule.
const minPasswordLen = 8

// Password asks for a masked password with no validation. Used for the
// confirmation round.
func Password(label string) (string, error) {
	p := promptui.Prompt{Label: label, Mask: '*'}
	result, err := p.Run()
	return result, wrapError(err)
}

// NewPassword asks for a new password twice: once with the minimum
// length enforced, once to confirm.
func NewPassword() (string, error) {
	p := promptui.Prompt{
		Label: "Password",
		Mask:  '*',
		Validate: func(input string) error {
			if len(input) < minPasswordLen {
				return fmt.Errorf("password must be at least %d characters", minPasswordLen)
			}
			return nil
		},
	}
	password, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}

	confirm, err := Password("Confirm password")
	if err != nil {
		return "", err
	}
	if confirm != password {
		return "", ErrPasswordMismatch
	}
	return password, nil
}
