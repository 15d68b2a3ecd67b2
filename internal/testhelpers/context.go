package testhelpers

import (
	"context"
	"net/http"
)

func contextWithOwner(r *http.Request, owner string) context.Context {
	return context.WithValue(r.Context(), ownerKey{}, owner)
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}
