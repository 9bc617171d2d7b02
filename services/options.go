package services

import (
	"strings"

	"go.pilab.hu/sociallink/domain"
)

// FieldNames maps request and record fields used by the service.
type FieldNames struct {
	Provider         string `mapstructure:"provider"`
	ProviderUID      string `mapstructure:"provider_uid"`
	OpenIDIdentifier string `mapstructure:"openid_identifier"`
	Password         string `mapstructure:"password"`
}

// Options configures a SocialLoginService. UserModel is required; every
// other field has a default applied by Validate.
type Options struct {
	UserModel          string            `mapstructure:"user_model"`
	PrimaryKey         string            `mapstructure:"primary_key"`
	Fields             FieldNames        `mapstructure:"fields"`
	Scope              map[string]any    `mapstructure:"scope"`
	Contain            []domain.Relation `mapstructure:"contain"`
	LoginAction        string            `mapstructure:"login_action"`
	LoginRedirect      string            `mapstructure:"login_redirect"`
	AssociatedRedirect string            `mapstructure:"associated_redirect"`
}

// Validate returns a copy of o with defaults applied, or a
// *domain.ConfigurationError when a required setting is missing.
func (o Options) Validate() (Options, error) {
	if strings.TrimSpace(o.UserModel) == "" {
		return o, &domain.ConfigurationError{Field: "user_model", Reason: "is required"}
	}

	setDefault(&o.PrimaryKey, "id")
	setDefault(&o.Fields.Provider, "provider")
	setDefault(&o.Fields.ProviderUID, "provider_uid")
	setDefault(&o.Fields.OpenIDIdentifier, "openid_identifier")
	setDefault(&o.Fields.Password, "password")
	setDefault(&o.LoginAction, "/login")
	setDefault(&o.LoginRedirect, "/")
	setDefault(&o.AssociatedRedirect, o.LoginRedirect)

	// o is a copy but Contain still shares the caller's backing array.
	o.Contain = append([]domain.Relation(nil), o.Contain...)
	for i, rel := range o.Contain {
		if rel.Collection == "" || rel.ForeignKey == "" {
			return o, &domain.ConfigurationError{Field: "contain", Reason: "entries need a collection and a foreign_key"}
		}
		if rel.Name == "" {
			o.Contain[i].Name = rel.Collection
		}
	}

	return o, nil
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
