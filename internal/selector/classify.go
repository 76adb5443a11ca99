package selector

import "github.com/kestrelqa/selfheal/api/schemas"

// Classify maps element facts onto the closed ElementType set. Attribute
// signals win over tag names so that e.g. input[type=checkbox] classifies
// as a checkbox rather than a generic input.
func Classify(facts *schemas.ElementFacts) schemas.ElementType {
	attrs := facts.Attributes

	switch facts.Role {
	case "button":
		return schemas.ElementButton
	case "link":
		return schemas.ElementLink
	case "navigation":
		return schemas.ElementNavigation
	case "checkbox":
		return schemas.ElementCheckbox
	case "radio":
		return schemas.ElementRadio
	}

	switch facts.TagName {
	case "button":
		return schemas.ElementButton
	case "a":
		return schemas.ElementLink
	case "img":
		return schemas.ElementImage
	case "textarea":
		return schemas.ElementTextarea
	case "select":
		if attrs["multiple"] != "" {
			return schemas.ElementSelect
		}
		return schemas.ElementDropdown
	case "form":
		return schemas.ElementForm
	case "nav":
		return schemas.ElementNavigation
	case "header":
		return schemas.ElementHeader
	case "footer":
		return schemas.ElementFooter
	case "article":
		return schemas.ElementArticle
	case "section":
		return schemas.ElementSection
	case "input":
		switch attrs["type"] {
		case "checkbox":
			return schemas.ElementCheckbox
		case "radio":
			return schemas.ElementRadio
		case "button", "submit", "reset":
			return schemas.ElementButton
		default:
			return schemas.ElementInput
		}
	}
	return schemas.ElementText
}
