package ui

import (
	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"sparkify/pkg/errors"
)

// askOne is replaced in tests.
var askOne = survey.AskOne

// Confirm asks a yes/no question. An interrupted prompt counts as no.
func Confirm(message string, defaultValue bool) (bool, error) {
	result := defaultValue
	prompt := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}
	if err := askOne(prompt, &result); err != nil {
		if err == terminal.InterruptErr {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeUserInput, "Failed to read confirmation")
	}
	return result, nil
}

// ConfirmDestructive asks before an irreversible action unless assumeYes is
// set. It returns a user input error when the answer is no.
func ConfirmDestructive(action string, assumeYes bool) error {
	if assumeYes {
		return nil
	}
	ok, err := Confirm(action+"?", false)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.ErrCodeUserInput, "Cancelled").
			WithContext("action", action).
			WithSeverity(errors.SeverityInfo).
			WithSuggestions("Pass --yes to skip the confirmation")
	}
	return nil
}

// Password reads a secret without echoing it.
func Password(message, help string) (string, error) {
	var result string
	prompt := &survey.Password{
		Message: message,
		Help:    help,
	}
	if err := askOne(prompt, &result, survey.WithValidator(survey.Required)); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeUserInput, "Failed to read secret")
	}
	return result, nil
}
