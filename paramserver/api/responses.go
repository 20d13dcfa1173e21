package api

import (
	"net/http"

	"github.com/vortexml/traind/params"
	"github.com/vortexml/traind/pkg/api"
)

var (
	_ api.Response = (*parameterResponse)(nil)
	_ api.Response = (*listParameterResponse)(nil)
	_ api.Response = (*deleteResponse)(nil)
)

type parameterResponse struct {
	params.Parameter
	updated bool
}

func (r parameterResponse) Code() int {
	if r.updated {
		return http.StatusAccepted
	}

	return http.StatusOK
}

func (r parameterResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r parameterResponse) Empty() bool {
	return false
}

type listParameterResponse struct {
	params.ParameterPage
}

func (r listParameterResponse) Code() int {
	return http.StatusOK
}

func (r listParameterResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r listParameterResponse) Empty() bool {
	return false
}

type deleteResponse struct{}

func (r deleteResponse) Code() int {
	return http.StatusNoContent
}

func (r deleteResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r deleteResponse) Empty() bool {
	return true
}
