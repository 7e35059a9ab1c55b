package bluelink

import "fmt"

// OAuth describes the token endpoints and client credentials of a region/brand
type OAuth struct {
	ClientID      string
	ClientSecret  string
	ApplicationID string
	TokenURL      string
	AuthorizeURL  string
	PushType      string
}

// Endpoints is the resolved api surface of an account session. Immutable
// once resolved.
type Endpoints struct {
	OAuth OAuth
	CCAPI struct {
		BaseURL string
	}
}

const (
	RegionEurope = "eu"
	RegionUSA    = "us"
	RegionCanada = "ca"

	BrandHyundai = "hyundai"
	BrandKia     = "kia"
	BrandGenesis = "genesis"
)

type regionKey struct {
	region, brand string
}

var endpointTable = map[regionKey]Endpoints{
	{RegionEurope, BrandHyundai}: region("https://prd.eu-ccapi.hyundai.com:8080",
		"6d477c38-3ca4-4cf3-9557-2a1929a94654", "KU9fvT8AOq3EWEJNRaNQ", "014d2225-8495-4735-812d-2616334fd15d", "GCM"),
	{RegionEurope, BrandKia}: region("https://prd.eu-ccapi.kia.com:8080",
		"fdc85c00-0a2f-4c64-bcb4-2cfb1500730a", "secret", "a2b8469b-30a3-4361-8e13-6fceea8fbe74", "APNS"),
	{RegionEurope, BrandGenesis}: region("https://prd-eu-ccapi.genesis.com:8081",
		"3020afa2-30ff-412a-aa51-d28fbe901e10", "secret", "f11f2b86-e0e7-4851-90df-5600b01d8b70", "GCM"),
	{RegionUSA, BrandHyundai}: region("https://api.telematics.hyundaiusa.com",
		"m66129Bb-em93-SPAHYN-bZ91-am4540zp19920", "secret", "99cfff84-f4e2-4be8-a5ed-e5b755eb6581", "GCM"),
	{RegionUSA, BrandKia}: region("https://api.owners.kia.com/apigw/v1",
		"peu", "secret", "693a33fa-c117-43f2-ae3b-61a02d24f417", "GCM"),
	{RegionCanada, BrandHyundai}: region("https://mybluelink.ca",
		"HATAHSPACA0232141ED9722C67715A0B", "secret", "99cfff84-f4e2-4be8-a5ed-e5b755eb6581", "GCM"),
	{RegionCanada, BrandKia}: region("https://kiaconnect.ca",
		"HATAHSPACA0232141ED9722C67715A0B", "secret", "a2b8469b-30a3-4361-8e13-6fceea8fbe74", "GCM"),
}

func region(base, clientID, clientSecret, applicationID, pushType string) Endpoints {
	var e Endpoints
	e.CCAPI.BaseURL = base
	e.OAuth = OAuth{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		ApplicationID: applicationID,
		TokenURL:      base + "/api/v1/user/oauth2/token",
		AuthorizeURL:  base + "/api/v1/user/oauth2/authorize",
		PushType:      pushType,
	}
	return e
}

// ResolveEndpoints looks up the api surface for region and brand. User
// supplied client id/secret override the built-in values.
func ResolveEndpoints(region, brand, clientID, clientSecret string) (Endpoints, error) {
	e, ok := endpointTable[regionKey{region, brand}]
	if !ok {
		return Endpoints{}, fmt.Errorf("unknown region/brand: %s/%s", region, brand)
	}

	if clientID != "" {
		e.OAuth.ClientID = clientID
	}
	if clientSecret != "" {
		e.OAuth.ClientSecret = clientSecret
	}

	return e, nil
}
