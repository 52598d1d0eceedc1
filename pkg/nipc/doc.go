// Package nipc is a client for the NIPC device control API of a TieDie
// gateway.
//
// Every operation returns a Response. Protocol failures never surface as Go
// errors: a status of 400 or above, an unparseable body or a body that could
// not be read all end up in Response.Error as a ProblemDetails. The error
// return is reserved for a missing device identifier and for failures while
// issuing the request.
//
//	resp, err := client.Connect(ctx, nipc.Device{ID: id}, nil)
//	if err != nil {
//		return err
//	}
//	if resp.IsError() {
//		log.Printf("connect refused: %v", resp.Error)
//		return nil
//	}
//	for _, p := range resp.Body {
//		fmt.Println(p.ServiceID, p.CharacteristicID, p.Flags)
//	}
//
// Property batches (ReadProperty, WriteProperty) succeed as a whole even when
// single elements fail; inspect PropertyResult.Failed per element.
//
// OnboardingClient covers the SCIM onboarding API of the same gateway. Its
// results are plain HTTPResponse values without problem mapping.
package nipc
