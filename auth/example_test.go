package auth_test

import (
	"context"
	"fmt"

	"github.com/jonwraymond/mediacache/auth"
	"github.com/jonwraymond/mediacache/blobstore"
)

func ExampleSession_Logout() {
	ctx := context.Background()
	session, _ := auth.NewSession(blobstore.NewMemory())

	_ = session.SetToken(ctx, "opaque-token")
	_ = session.SetUser(ctx, auth.User{ID: 1, Name: "ana", Role: auth.RoleAdmin})

	session.OnLogout(func(context.Context) {
		fmt.Println("clearing media cache")
	})

	fmt.Println("authenticated:", session.Authenticated())
	_ = session.Logout(ctx)
	fmt.Println("authenticated:", session.Authenticated())
	// Output:
	// authenticated: true
	// clearing media cache
	// authenticated: false
}
