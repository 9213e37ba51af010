package mapper

import "costshub/internal/costmodel"

// exactTable maps provider-native billing service names, as they appear in
// each provider's billing API output, to unified categories.
var exactTable = map[costmodel.Provider]map[string]costmodel.Category{
	costmodel.ProviderAWS: {
		"Amazon Elastic Compute Cloud - Compute": costmodel.CategoryCompute,
		"AWS Lambda":                             costmodel.CategoryCompute,
		"Amazon Elastic Container Service":       costmodel.CategoryCompute,
		"Amazon Elastic Kubernetes Service":      costmodel.CategoryCompute,
		"Amazon Lightsail":                       costmodel.CategoryCompute,
		"Amazon Simple Storage Service":          costmodel.CategoryStorage,
		"Amazon Elastic Block Store":             costmodel.CategoryStorage,
		"Amazon Elastic File System":             costmodel.CategoryStorage,
		"Amazon Glacier":                         costmodel.CategoryStorage,
		"Amazon Relational Database Service":     costmodel.CategoryDatabase,
		"Amazon DynamoDB":                        costmodel.CategoryDatabase,
		"Amazon ElastiCache":                     costmodel.CategoryDatabase,
		"Amazon DocumentDB":                      costmodel.CategoryDatabase,
		"Amazon Virtual Private Cloud":           costmodel.CategoryNetworking,
		"Amazon CloudFront":                      costmodel.CategoryNetworking,
		"Elastic Load Balancing":                 costmodel.CategoryNetworking,
		"Amazon Route 53":                        costmodel.CategoryNetworking,
		"AWS Direct Connect":                     costmodel.CategoryNetworking,
		"Amazon SageMaker":                       costmodel.CategoryAIML,
		"Amazon Rekognition":                     costmodel.CategoryAIML,
		"Amazon Comprehend":                      costmodel.CategoryAIML,
		"Amazon Bedrock":                         costmodel.CategoryAIML,
		"Amazon Athena":                          costmodel.CategoryAnalytics,
		"Amazon Redshift":                        costmodel.CategoryAnalytics,
		"Amazon Kinesis":                         costmodel.CategoryAnalytics,
		"AWS Glue":                               costmodel.CategoryAnalytics,
		"Amazon EMR":                             costmodel.CategoryAnalytics,
		"AWS Key Management Service":             costmodel.CategorySecurity,
		"Amazon GuardDuty":                       costmodel.CategorySecurity,
		"AWS WAF":                                costmodel.CategorySecurity,
		"AWS Secrets Manager":                    costmodel.CategorySecurity,
		"AmazonCloudWatch":                       costmodel.CategoryManagement,
		"AWS CloudTrail":                         costmodel.CategoryManagement,
		"AWS Config":                             costmodel.CategoryManagement,
		"AWS Systems Manager":                    costmodel.CategoryManagement,
	},
	costmodel.ProviderGCP: {
		"Compute Engine":            costmodel.CategoryCompute,
		"Cloud Run":                 costmodel.CategoryCompute,
		"Cloud Functions":           costmodel.CategoryCompute,
		"Kubernetes Engine":         costmodel.CategoryCompute,
		"App Engine":                costmodel.CategoryCompute,
		"Cloud Storage":             costmodel.CategoryStorage,
		"Persistent Disk":           costmodel.CategoryStorage,
		"Filestore":                 costmodel.CategoryStorage,
		"Cloud SQL":                 costmodel.CategoryDatabase,
		"Cloud Spanner":             costmodel.CategoryDatabase,
		"Firestore":                 costmodel.CategoryDatabase,
		"Cloud Bigtable":            costmodel.CategoryDatabase,
		"Memorystore for Redis":     costmodel.CategoryDatabase,
		"Virtual Private Cloud":     costmodel.CategoryNetworking,
		"Cloud CDN":                 costmodel.CategoryNetworking,
		"Cloud Load Balancing":      costmodel.CategoryNetworking,
		"Cloud DNS":                 costmodel.CategoryNetworking,
		"Cloud NAT":                 costmodel.CategoryNetworking,
		"Vertex AI":                 costmodel.CategoryAIML,
		"Cloud Vision API":          costmodel.CategoryAIML,
		"Cloud Natural Language":    costmodel.CategoryAIML,
		"BigQuery":                  costmodel.CategoryAnalytics,
		"Dataflow":                  costmodel.CategoryAnalytics,
		"Dataproc":                  costmodel.CategoryAnalytics,
		"Pub/Sub":                   costmodel.CategoryAnalytics,
		"Cloud Key Management Service": costmodel.CategorySecurity,
		"Secret Manager":            costmodel.CategorySecurity,
		"Cloud Armor":               costmodel.CategorySecurity,
		"Cloud Logging":             costmodel.CategoryManagement,
		"Cloud Monitoring":          costmodel.CategoryManagement,
	},
	costmodel.ProviderAzure: {
		"Virtual Machines":          costmodel.CategoryCompute,
		"Azure App Service":         costmodel.CategoryCompute,
		"Azure Functions":           costmodel.CategoryCompute,
		"Azure Kubernetes Service":  costmodel.CategoryCompute,
		"Azure Container Instances": costmodel.CategoryCompute,
		"Storage":                   costmodel.CategoryStorage,
		"Azure Blob Storage":        costmodel.CategoryStorage,
		"Azure Files":               costmodel.CategoryStorage,
		"Azure SQL Database":        costmodel.CategoryDatabase,
		"Azure Cosmos DB":           costmodel.CategoryDatabase,
		"Azure Database for PostgreSQL": costmodel.CategoryDatabase,
		"Azure Cache for Redis":     costmodel.CategoryDatabase,
		"Virtual Network":           costmodel.CategoryNetworking,
		"Content Delivery Network":  costmodel.CategoryNetworking,
		"Load Balancer":             costmodel.CategoryNetworking,
		"Azure DNS":                 costmodel.CategoryNetworking,
		"ExpressRoute":              costmodel.CategoryNetworking,
		"Azure Machine Learning":    costmodel.CategoryAIML,
		"Azure OpenAI Service":      costmodel.CategoryAIML,
		"Cognitive Services":        costmodel.CategoryAIML,
		"Azure Synapse Analytics":   costmodel.CategoryAnalytics,
		"Azure Data Factory":        costmodel.CategoryAnalytics,
		"Event Hubs":                costmodel.CategoryAnalytics,
		"Azure Databricks":          costmodel.CategoryAnalytics,
		"Key Vault":                 costmodel.CategorySecurity,
		"Microsoft Defender for Cloud": costmodel.CategorySecurity,
		"Azure Firewall":            costmodel.CategorySecurity,
		"Azure Monitor":             costmodel.CategoryManagement,
		"Log Analytics":             costmodel.CategoryManagement,
	},
}

// aliasTable maps known shorthand and synonym spellings, keyed by their
// normalized form (see normalize), to unified categories.
var aliasTable = map[costmodel.Provider]map[string]costmodel.Category{
	costmodel.ProviderAWS: {
		"ec2":               costmodel.CategoryCompute,
		"ec2 compute":       costmodel.CategoryCompute,
		"elastic compute":   costmodel.CategoryCompute,
		"lambda":            costmodel.CategoryCompute,
		"fargate":           costmodel.CategoryCompute,
		"s3":                costmodel.CategoryStorage,
		"ebs":               costmodel.CategoryStorage,
		"efs":               costmodel.CategoryStorage,
		"rds":               costmodel.CategoryDatabase,
		"dynamodb":          costmodel.CategoryDatabase,
		"elasticache":       costmodel.CategoryDatabase,
		"vpc":               costmodel.CategoryNetworking,
		"cloudfront":        costmodel.CategoryNetworking,
		"elb":               costmodel.CategoryNetworking,
		"sagemaker":         costmodel.CategoryAIML,
		"redshift":          costmodel.CategoryAnalytics,
		"kms":               costmodel.CategorySecurity,
		"cloudwatch":        costmodel.CategoryManagement,
	},
	costmodel.ProviderGCP: {
		"gce":              costmodel.CategoryCompute,
		"gke":              costmodel.CategoryCompute,
		"gcs":              costmodel.CategoryStorage,
		"bq":               costmodel.CategoryAnalytics,
		"cloud sql for mysql":      costmodel.CategoryDatabase,
		"cloud sql for postgresql": costmodel.CategoryDatabase,
		"networking":       costmodel.CategoryNetworking,
		"stackdriver":      costmodel.CategoryManagement,
	},
	costmodel.ProviderAzure: {
		"vm":            costmodel.CategoryCompute,
		"vms":           costmodel.CategoryCompute,
		"aks":           costmodel.CategoryCompute,
		"app service":   costmodel.CategoryCompute,
		"blob storage":  costmodel.CategoryStorage,
		"managed disks": costmodel.CategoryStorage,
		"cosmos db":     costmodel.CategoryDatabase,
		"sql database":  costmodel.CategoryDatabase,
		"vnet":          costmodel.CategoryNetworking,
		"cdn":           costmodel.CategoryNetworking,
		"synapse":       costmodel.CategoryAnalytics,
	},
}
