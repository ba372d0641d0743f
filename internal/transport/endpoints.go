package transport

import (
	"fmt"
	"strings"

	"github.com/rezonia/nfe-engine/internal/accesskey"
	"github.com/rezonia/nfe-engine/internal/model"
)

// Service is an authority web service name
type Service string

const (
	ServiceAuthorization Service = "NFeAutorizacao4"
	ServiceStatus        Service = "NFeStatusServico4"
	ServiceReceipt       Service = "NFeRetAutorizacao4"
	ServiceEvent         Service = "NFeRecepcaoEvento4"
	ServiceInutilizacao  Service = "NFeInutilizacao4"
)

var operations = map[Service]string{
	ServiceAuthorization: "nfeAutorizacaoLote",
	ServiceStatus:        "nfeStatusServicoNF",
	ServiceReceipt:       "nfeRetAutorizacaoLote",
	ServiceEvent:         "nfeRecepcaoEvento",
	ServiceInutilizacao:  "nfeInutilizacaoNF",
}

// Namespace returns the WSDL namespace of nfeDadosMsg
func (s Service) Namespace() string {
	return WSDLNamespace + string(s)
}

// Action returns the SOAP 1.2 action of the service operation
func (s Service) Action() string {
	return s.Namespace() + "/" + operations[s]
}

// Valid reports whether s is a known service
func (s Service) Valid() bool {
	_, ok := operations[s]
	return ok
}

// Shared authorities
const (
	AuthoritySVRS = "SVRS"
	AuthoritySVAN = "SVAN"
)

// Endpoint is a resolved web service URL
type Endpoint struct {
	URL         string
	Authority   string
	Environment model.Environment
	Service     Service
}

// EndpointResolver selects the URL for a state, environment and service
type EndpointResolver interface {
	Resolve(state string, env model.Environment, svc Service) (Endpoint, error)
}

// Override replaces one table entry. Environment is the nature of URL.
type Override struct {
	State       string            `mapstructure:"state" yaml:"state" json:"state"`
	Environment model.Environment `mapstructure:"environment" yaml:"environment" json:"environment"`
	Service     Service           `mapstructure:"service" yaml:"service" json:"service"`
	URL         string            `mapstructure:"url" yaml:"url" json:"url"`
}

type authority struct {
	production   string
	homologation string
	paths        map[Service]string
}

func (a authority) url(env model.Environment, svc Service) string {
	host := a.homologation
	if env == model.EnvironmentProduction {
		host = a.production
	}
	return "https://" + host + a.paths[svc]
}

// uniform builds the path table of authorities naming every service the same way
func uniform(prefix, suffix string) map[Service]string {
	paths := make(map[Service]string, len(operations))
	for svc := range operations {
		paths[svc] = prefix + string(svc) + suffix
	}
	return paths
}

// nested builds /<service>/<service>.asmx paths
func nested() map[Service]string {
	paths := make(map[Service]string, len(operations))
	for svc := range operations {
		paths[svc] = "/" + string(svc) + "/" + string(svc) + ".asmx"
	}
	return paths
}

// axis2 is the path table of the Axis2 deployments, which spell a few services differently
func axis2(prefix string) map[Service]string {
	return map[Service]string{
		ServiceAuthorization: prefix + "NfeAutorizacao4",
		ServiceStatus:        prefix + "NfeStatusServico4",
		ServiceReceipt:       prefix + "NfeRetAutorizacao4",
		ServiceEvent:         prefix + "RecepcaoEvento4",
		ServiceInutilizacao:  prefix + "NfeInutilizacao4",
	}
}

var svrsPaths = map[Service]string{
	ServiceAuthorization: "/ws/NfeAutorizacao/NFeAutorizacao4.asmx",
	ServiceStatus:        "/ws/NfeStatusServico/NfeStatusServico4.asmx",
	ServiceReceipt:       "/ws/NfeRetAutorizacao/NFeRetAutorizacao4.asmx",
	ServiceEvent:         "/ws/recepcaoevento/recepcaoevento4.asmx",
	ServiceInutilizacao:  "/ws/nfeinutilizacao/nfeinutilizacao4.asmx",
}

var authorities = map[string]authority{
	AuthoritySVRS: {"nfe.svrs.rs.gov.br", "nfe-homologacao.svrs.rs.gov.br", svrsPaths},
	AuthoritySVAN: {"www.sefazvirtual.fazenda.gov.br", "hom.sefazvirtual.fazenda.gov.br", nested()},
	"RS":          {"nfe.sefazrs.rs.gov.br", "nfe-homologacao.sefazrs.rs.gov.br", svrsPaths},
	"SP": {"nfe.fazenda.sp.gov.br", "homologacao.nfe.fazenda.sp.gov.br", map[Service]string{
		ServiceAuthorization: "/ws/nfeautorizacao4.asmx",
		ServiceStatus:        "/ws/nfestatusservico4.asmx",
		ServiceReceipt:       "/ws/nferetautorizacao4.asmx",
		ServiceEvent:         "/ws/nferecepcaoevento4.asmx",
		ServiceInutilizacao:  "/ws/nfeinutilizacao4.asmx",
	}},
	"MG": {"nfe.fazenda.mg.gov.br", "hnfe.fazenda.mg.gov.br", uniform("/nfe2/services/", "")},
	"PR": {"nfe.sefa.pr.gov.br", "homologacao.nfe.sefa.pr.gov.br", uniform("/nfe/", "")},
	"BA": {"nfe.sefaz.ba.gov.br", "hnfe.sefaz.ba.gov.br", uniform("/webservices/", "")},
	"GO": {"nfe.sefaz.go.gov.br", "homolog.sefaz.go.gov.br", uniform("/nfe/services/", "")},
	"AM": {"nfe.sefaz.am.gov.br", "homnfe.sefaz.am.gov.br", axis2("/services2/services/")},
	"MS": {"nfe.sefaz.ms.gov.br", "hom.nfe.sefaz.ms.gov.br", uniform("/ws/", "")},
	"MT": {"nfe.sefaz.mt.gov.br", "homologacao.sefaz.mt.gov.br", axis2("/nfews/v2/services/")},
	"PE": {"nfe.sefaz.pe.gov.br", "nfehomolog.sefaz.pe.gov.br", uniform("/nfe-service/services/", "")},
}

// virtualAuthority lists states served by SVAN. Every other state without
// its own web service uses SVRS.
var virtualAuthority = map[string]string{
	"MA": AuthoritySVAN,
}

// AuthorityFor returns the authority answering for a state
func AuthorityFor(state string) (string, error) {
	state = strings.ToUpper(state)
	if _, ok := accesskey.StateCode(state); !ok {
		return "", model.NewValidationError("state", state, "uf", "unknown federative unit")
	}
	if _, own := authorities[state]; own {
		return state, nil
	}
	if a, ok := virtualAuthority[state]; ok {
		return a, nil
	}
	return AuthoritySVRS, nil
}

// StaticEndpoints is the built-in endpoint table plus configured overrides
type StaticEndpoints struct {
	overrides map[string]Override
}

// NewStaticEndpoints creates the table. Overrides must name a state, a
// service and an environment.
func NewStaticEndpoints(overrides ...Override) (*StaticEndpoints, error) {
	t := &StaticEndpoints{overrides: make(map[string]Override, len(overrides))}
	for _, o := range overrides {
		if _, ok := model.ParseEnvironment(string(o.Environment)); !ok {
			return nil, model.NewValidationError("endpoints.environment", o.Environment, "environment", "override needs production or homologation")
		}
		if !o.Service.Valid() {
			return nil, model.NewValidationError("endpoints.service", o.Service, "service", "unknown web service")
		}
		if o.URL == "" {
			return nil, model.NewValidationError("endpoints.url", nil, "required", "override needs a url")
		}
		o.State = strings.ToUpper(o.State)
		env, _ := model.ParseEnvironment(string(o.Environment))
		o.Environment = env
		t.overrides[overrideKey(o.State, o.Service)] = o
	}
	return t, nil
}

func overrideKey(state string, svc Service) string {
	return state + "/" + string(svc)
}

// Resolve implements EndpointResolver. An override is returned with its own
// environment, which the client checks against the configured one.
func (t *StaticEndpoints) Resolve(state string, env model.Environment, svc Service) (Endpoint, error) {
	if !svc.Valid() {
		return Endpoint{}, model.NewValidationError("service", svc, "service", "unknown web service")
	}
	state = strings.ToUpper(state)
	if o, ok := t.overrides[overrideKey(state, svc)]; ok {
		return Endpoint{URL: o.URL, Authority: state, Environment: o.Environment, Service: svc}, nil
	}
	name, err := AuthorityFor(state)
	if err != nil {
		return Endpoint{}, err
	}
	a := authorities[name]
	return Endpoint{
		URL:         a.url(env, svc),
		Authority:   name,
		Environment: env,
		Service:     svc,
	}, nil
}

// EnvironmentOfURL guesses whether a URL is a homologation endpoint from its host
func EnvironmentOfURL(rawURL string) model.Environment {
	lower := strings.ToLower(rawURL)
	for _, marker := range []string{"homolog", "://hom", "://hnfe", ".hom."} {
		if strings.Contains(lower, marker) {
			return model.EnvironmentHomologation
		}
	}
	return model.EnvironmentProduction
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s %s (%s)", e.Authority, e.Service, e.URL)
}
