// Package pagination follows cursor-paged Graph API list endpoints.
//
// List responses carry their items under "data" and a "paging.next" URL while
// more pages exist. A Pager issues one request per Next call, so iteration is
// pulled by the caller and stopping early stops all network activity.
//
// Example usage:
//
//	pager := graph.GetPages("me/friends", client.Params{"limit": 100})
//	for pager.Next(ctx) {
//		for _, friend := range pager.Page().([]any) {
//			...
//		}
//	}
//	if err := pager.Err(); err != nil {
//		return err
//	}
//
// Page-position parameters (offset, since, until) are dropped once a cursor
// is followed, because the cursor URL already encodes them.
package pagination
