package transport_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfe-engine/internal/model"
	"github.com/rezonia/nfe-engine/internal/transport"
)

func TestAuthorityFor(t *testing.T) {
	tests := []struct {
		state string
		want  string
	}{
		{"SP", "SP"},
		{"mg", "MG"},
		{"RS", "RS"},
		{"MA", transport.AuthoritySVAN},
		{"AC", transport.AuthoritySVRS},
		{"RJ", transport.AuthoritySVRS},
		{"DF", transport.AuthoritySVRS},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			got, err := transport.AuthorityFor(tt.state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := transport.AuthorityFor("XX")
	assert.Error(t, err)
}

func TestStaticEndpoints_Resolve(t *testing.T) {
	table, err := transport.NewStaticEndpoints()
	require.NoError(t, err)

	tests := []struct {
		name  string
		state string
		env   model.Environment
		svc   transport.Service
		want  string
	}{
		{"SP production", "SP", model.EnvironmentProduction, transport.ServiceAuthorization,
			"https://nfe.fazenda.sp.gov.br/ws/nfeautorizacao4.asmx"},
		{"SP homologation", "SP", model.EnvironmentHomologation, transport.ServiceAuthorization,
			"https://homologacao.nfe.fazenda.sp.gov.br/ws/nfeautorizacao4.asmx"},
		{"SVRS fallback", "RJ", model.EnvironmentProduction, transport.ServiceAuthorization,
			"https://nfe.svrs.rs.gov.br/ws/NfeAutorizacao/NFeAutorizacao4.asmx"},
		{"SVRS homologation", "SC", model.EnvironmentHomologation, transport.ServiceStatus,
			"https://nfe-homologacao.svrs.rs.gov.br/ws/NfeStatusServico/NfeStatusServico4.asmx"},
		{"SVAN", "MA", model.EnvironmentProduction, transport.ServiceAuthorization,
			"https://www.sefazvirtual.fazenda.gov.br/NFeAutorizacao4/NFeAutorizacao4.asmx"},
		{"MG", "MG", model.EnvironmentHomologation, transport.ServiceAuthorization,
			"https://hnfe.fazenda.mg.gov.br/nfe2/services/NFeAutorizacao4"},
		{"MT event", "MT", model.EnvironmentProduction, transport.ServiceEvent,
			"https://nfe.sefaz.mt.gov.br/nfews/v2/services/RecepcaoEvento4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := table.Resolve(tt.state, tt.env, tt.svc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ep.URL)
			assert.Equal(t, tt.env, ep.Environment)
			assert.Equal(t, transport.EnvironmentOfURL(ep.URL), tt.env)
		})
	}
}

func TestStaticEndpoints_Override(t *testing.T) {
	table, err := transport.NewStaticEndpoints(transport.Override{
		State:       "rj",
		Environment: "2",
		Service:     transport.ServiceStatus,
		URL:         "https://proxy.local/status",
	})
	require.NoError(t, err)

	ep, err := table.Resolve("RJ", model.EnvironmentProduction, transport.ServiceStatus)
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.local/status", ep.URL)
	assert.Equal(t, model.EnvironmentHomologation, ep.Environment)

	_, err = transport.NewStaticEndpoints(transport.Override{State: "RJ", Environment: "staging", Service: transport.ServiceStatus, URL: "x"})
	assert.Error(t, err)
	_, err = transport.NewStaticEndpoints(transport.Override{State: "RJ", Environment: "1", Service: "Nope", URL: "x"})
	assert.Error(t, err)
}

func TestService_Action(t *testing.T) {
	assert.Equal(t, "http://www.portalfiscal.inf.br/nfe/wsdl/NFeRecepcaoEvento4/nfeRecepcaoEvento", transport.ServiceEvent.Action())
	assert.False(t, transport.Service("Other").Valid())
}
