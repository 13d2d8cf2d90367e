// Package dns talks to the registrar: domain availability and purchase, plus
// A-record management inside the managed account.
package dns

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	rTypes "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/aws-sdk-go-v2/service/route53domains"
	rdTypes "github.com/aws/aws-sdk-go-v2/service/route53domains/types"
	"github.com/siteforge-ops/siteforge-backend/pkg/env"
)

// Registrar is the registrar surface the domain commands run against.
// Implemented by DNSProvisioner; tests substitute a scripted fake.
type Registrar interface {
	CheckAvailability(ctx context.Context, domain string) (bool, error)
	RequestDomain(ctx context.Context, domain string) (string, error)
	ZoneForDomain(ctx context.Context, domain string) (string, error)
	UpsertARecords(ctx context.Context, zoneID, domain, ip string) error
}

type DomainContact struct {
	FirstName    string
	LastName     string
	Email        string
	PhoneNumber  string
	AddressLine1 string
	City         string
	State        string
	ZipCode      string
}

func NewDomainContact() *DomainContact {
	return &DomainContact{
		FirstName:    env.GetEnv("D_CONTACT_FIRST_NAME", ""),
		LastName:     env.GetEnv("D_CONTACT_LAST_NAME", ""),
		Email:        env.GetEnv("D_CONTACT_EMAIL", ""),
		PhoneNumber:  env.GetEnv("D_CONTACT_PHONE", ""),
		AddressLine1: env.GetEnv("D_CONTACT_ADDRESS", ""),
		City:         env.GetEnv("D_CONTACT_CITY", ""),
		State:        env.GetEnv("D_CONTACT_STATE", ""),
		ZipCode:      env.GetEnv("D_CONTACT_ZIP", ""),
	}
}

type DNSProvisioner struct {
	domainContact *DomainContact
	client        *route53.Client
	domainClient  *route53domains.Client
}

var _ Registrar = (*DNSProvisioner)(nil)

func NewDNSProvisioner(awsConfig aws.Config, domainContact *DomainContact) *DNSProvisioner {
	domainClientCfg := awsConfig
	domainClientCfg.Region = "us-east-1"
	return &DNSProvisioner{
		domainContact: domainContact,
		client:        route53.NewFromConfig(awsConfig),
		domainClient:  route53domains.NewFromConfig(domainClientCfg),
	}
}

func (d *DNSProvisioner) CheckAvailability(ctx context.Context, domain string) (bool, error) {
	out, err := d.domainClient.CheckDomainAvailability(ctx, &route53domains.CheckDomainAvailabilityInput{
		DomainName: aws.String(domain),
	})
	if err != nil {
		return false, err
	}
	return out.Availability == rdTypes.DomainAvailabilityAvailable, nil
}

// RequestDomain purchases the domain and returns the registrar operation id.
func (d *DNSProvisioner) RequestDomain(ctx context.Context, domain string) (string, error) {
	available, err := d.CheckAvailability(ctx, domain)
	if err != nil {
		return "", err
	}
	if !available {
		return "", fmt.Errorf("domain %v is not available", domain)
	}
	domainContact := rdTypes.ContactDetail{
		FirstName:    aws.String(d.domainContact.FirstName),
		LastName:     aws.String(d.domainContact.LastName),
		Email:        aws.String(d.domainContact.Email),
		PhoneNumber:  aws.String(d.domainContact.PhoneNumber),
		AddressLine1: aws.String(d.domainContact.AddressLine1),
		City:         aws.String(d.domainContact.City),
		State:        aws.String(d.domainContact.State),
		CountryCode:  rdTypes.CountryCodeUs,
		ZipCode:      aws.String(d.domainContact.ZipCode),
	}
	res, err := d.domainClient.RegisterDomain(ctx, &route53domains.RegisterDomainInput{
		DomainName:                      aws.String(domain),
		DurationInYears:                 aws.Int32(1),
		AutoRenew:                       aws.Bool(true),
		AdminContact:                    &domainContact,
		RegistrantContact:               &domainContact,
		TechContact:                     &domainContact,
		PrivacyProtectAdminContact:      aws.Bool(true),
		PrivacyProtectRegistrantContact: aws.Bool(true),
		PrivacyProtectTechContact:       aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(res.OperationId), nil
}

// ZoneForDomain reports whether the domain lives in the managed account.
// An empty id is a first-class "manual DNS required" outcome, not an error.
func (d *DNSProvisioner) ZoneForDomain(ctx context.Context, domain string) (string, error) {
	res, err := d.client.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
		DNSName: aws.String(domain),
	})
	if err != nil {
		return "", err
	}
	for _, hostedZone := range res.HostedZones {
		if strings.TrimSuffix(aws.ToString(hostedZone.Name), ".") != domain {
			continue
		}
		parts := strings.SplitN(aws.ToString(hostedZone.Id), "/hostedzone/", 2)
		if len(parts) == 2 {
			return parts[1], nil
		}
	}
	return "", nil
}

// UpsertARecords points the root and www names at the server IP.
func (d *DNSProvisioner) UpsertARecords(ctx context.Context, zoneID, domain, ip string) error {
	changes := make([]rTypes.Change, 0, 2)
	for _, name := range []string{domain, "www." + domain} {
		changes = append(changes, rTypes.Change{
			Action: rTypes.ChangeActionUpsert,
			ResourceRecordSet: &rTypes.ResourceRecordSet{
				Name:            aws.String(name),
				Type:            rTypes.RRTypeA,
				TTL:             aws.Int64(300),
				ResourceRecords: []rTypes.ResourceRecord{{Value: aws.String(ip)}},
			},
		})
	}

	_, err := d.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch:  &rTypes.ChangeBatch{Changes: changes},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert A records for %v: %w", domain, err)
	}
	return nil
}
